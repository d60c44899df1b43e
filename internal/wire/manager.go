package wire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSessionNotFound is returned for unknown or finished session ids.
var ErrSessionNotFound = errors.New("wire: session not found")

// Manager runs sessions in the background and tracks the live ones so a
// transport can route responses to them by id.
type Manager struct {
	timeout  time.Duration
	prompter Prompter
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. prompter may be nil.
func NewManager(timeout time.Duration, prompter Prompter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		timeout:  timeout,
		prompter: prompter,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Start opens a session and returns once it is awaiting a response. If the
// preview cannot be built the session never registers and its error is
// returned. If ctx ends first the session is cancelled and unregistered.
func (m *Manager) Start(ctx context.Context, from string, target Wireable, amount decimal.Decimal, memo string) (*Session, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, err
	}
	s := NewSession(from, target, amount, memo, m.timeout, m.log)
	runCtx, cancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer m.remove(s.ID)
		s.Run(runCtx, m.prompter)
	}()

	select {
	case <-s.Awaiting():
		return s, nil
	case <-s.Done():
		return nil, s.Outcome().Err
	case <-ctx.Done():
		m.remove(s.ID)
		cancel()
		return nil, ctx.Err()
	}
}

// Get returns the live session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Respond delivers uid's answer to session id and waits for its outcome.
func (m *Manager) Respond(ctx context.Context, id, uid string, r Response) (Outcome, error) {
	s, ok := m.Get(id)
	if !ok {
		return Outcome{}, ErrSessionNotFound
	}
	if err := s.Respond(uid, r); err != nil {
		return Outcome{}, err
	}
	select {
	case <-s.Done():
		return s.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close cancels every live session and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

package wire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/metrics"
	"github.com/atmx/economy-engine/internal/model"
)

// DefaultTimeout is how long a session waits for the sender to respond.
const DefaultTimeout = 60 * time.Second

// State is a session's position in the protocol.
type State string

const (
	StatePreview          State = "PREVIEW"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateExecuted         State = "EXECUTED"
	StateCancelled        State = "CANCELLED"
	StateTimedOut         State = "TIMED_OUT"
	StateRejected         State = "REJECTED"
	StateFailed           State = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateExecuted, StateCancelled, StateTimedOut, StateRejected, StateFailed:
		return true
	}
	return false
}

// Response is the sender's answer to a preview.
type Response int

const (
	Confirm Response = iota + 1
	Cancel
)

func (r Response) String() string {
	switch r {
	case Confirm:
		return "confirm"
	case Cancel:
		return "cancel"
	}
	return "unknown"
}

var (
	// ErrNotInitiator is returned when someone other than the sender responds.
	ErrNotInitiator = errors.New("wire: only the initiating user can respond")
	// ErrNotAwaiting is returned when the session no longer accepts a response.
	ErrNotAwaiting = errors.New("wire: session is not awaiting a response")
)

// Outcome is the terminal result of a session. Transaction is set only
// for StateExecuted; Err carries the rejection or failure cause.
type Outcome struct {
	State       State
	Transaction *model.Transaction
	Err         error
}

// Reason returns the human-readable cause for a rejected or failed wire.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	if le := ledgererr.As(o.Err); le != nil && le.Reason != "" {
		return le.Reason
	}
	return o.Err.Error()
}

// Prompter shows a preview to the sender and reports the outcome back.
// Prompt errors abort the session as failed.
type Prompter interface {
	Prompt(ctx context.Context, s *Session, p Preview) error
	Report(ctx context.Context, s *Session, o Outcome)
}

// Session is one preview/confirm exchange for a single wire.
type Session struct {
	ID      string
	From    string
	Target  Wireable
	Amount  decimal.Decimal
	Memo    string
	Timeout time.Duration

	log *slog.Logger

	mu        sync.Mutex
	state     State
	preview   *Preview
	expiresAt time.Time
	outcome   Outcome
	closed    bool
	responses chan Response
	awaiting  chan struct{}
	done      chan struct{}
}

// NewSession prepares a session in StatePreview. A zero timeout means
// DefaultTimeout.
func NewSession(from string, target Wireable, amount decimal.Decimal, memo string, timeout time.Duration, logger *slog.Logger) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:        uuid.NewString(),
		From:      from,
		Target:    target,
		Amount:    amount,
		Memo:      memo,
		Timeout:   timeout,
		log:       logger,
		state:     StatePreview,
		responses: make(chan Response, 1),
		awaiting:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Preview returns the preview once built, or nil.
func (s *Session) Preview() *Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// ExpiresAt is when an awaiting session times out.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Awaiting is closed when the session starts waiting for a response.
func (s *Session) Awaiting() <-chan struct{} { return s.awaiting }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome. Valid after Done is closed.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Respond delivers uid's answer. Only the first response from the sender
// while awaiting is accepted.
func (s *Session) Respond(uid string, r Response) error {
	if uid != s.From {
		return ErrNotInitiator
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingResponse || s.closed {
		return ErrNotAwaiting
	}
	select {
	case s.responses <- r:
		return nil
	default:
		return ErrNotAwaiting
	}
}

// Run drives the session to a terminal state and returns the outcome.
// Cancelling ctx while awaiting counts as a cancel. Once confirmed, the
// wire runs to completion.
func (s *Session) Run(ctx context.Context, p Prompter) Outcome {
	log := s.log.With("wire_id", s.ID, "uid", s.From, "destination", s.Target.Identifier())

	preview, err := s.Target.Preview(ctx, s.From, s.Amount, s.Memo)
	if err != nil {
		return s.finish(ctx, p, Outcome{State: StateFailed, Err: err}, log)
	}

	s.mu.Lock()
	s.preview = preview
	s.state = StateAwaitingResponse
	s.expiresAt = time.Now().Add(s.Timeout)
	s.mu.Unlock()
	close(s.awaiting)

	metrics.WireSessionsActive.Inc()
	resp, waitState := s.wait(ctx, p, *preview)
	metrics.WireSessionsActive.Dec()

	if resp != Confirm {
		return s.finish(ctx, p, Outcome{State: waitState.state, Err: waitState.err}, log)
	}

	execCtx := context.WithoutCancel(ctx)
	tx, err := s.Target.Execute(execCtx, s.From, s.Amount, s.Memo)
	switch {
	case err == nil:
		s.Target.OnSuccess(execCtx, Result{From: s.From, Amount: s.Amount, Memo: s.Memo, Transaction: tx})
		return s.finish(ctx, p, Outcome{State: StateExecuted, Transaction: tx}, log)
	case ledgererr.IsKind(err, ledgererr.KindWireRejection):
		return s.finish(ctx, p, Outcome{State: StateRejected, Err: err}, log)
	default:
		return s.finish(ctx, p, Outcome{State: StateFailed, Err: err}, log)
	}
}

type waitResult struct {
	state State
	err   error
}

func (s *Session) wait(ctx context.Context, p Prompter, preview Preview) (Response, waitResult) {
	if p != nil {
		if err := p.Prompt(ctx, s, preview); err != nil {
			s.closeResponses()
			return 0, waitResult{state: StateFailed, err: err}
		}
	}

	timer := time.NewTimer(time.Until(s.ExpiresAt()))
	defer timer.Stop()

	select {
	case r := <-s.responses:
		s.closeResponses()
		if r == Confirm {
			return Confirm, waitResult{}
		}
		return Cancel, waitResult{state: StateCancelled}
	case <-timer.C:
		s.closeResponses()
		return 0, waitResult{state: StateTimedOut}
	case <-ctx.Done():
		s.closeResponses()
		return Cancel, waitResult{state: StateCancelled, err: ctx.Err()}
	}
}

// closeResponses makes later Respond calls fail with ErrNotAwaiting.
func (s *Session) closeResponses() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) finish(ctx context.Context, p Prompter, o Outcome, log *slog.Logger) Outcome {
	s.mu.Lock()
	s.state = o.State
	s.outcome = o
	s.mu.Unlock()
	close(s.done)

	metrics.WireSessions.WithLabelValues(string(o.State)).Inc()
	switch o.State {
	case StateExecuted:
		log.Info("wire executed", "tx_id", o.Transaction.ID, "amount", s.Amount.String())
	case StateFailed:
		log.Warn("wire failed", "err", o.Err)
	default:
		log.Info("wire aborted", "state", o.State, "reason", o.Reason())
	}

	if p != nil {
		p.Report(context.WithoutCancel(ctx), s, o)
	}
	return o
}

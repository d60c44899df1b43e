package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/model"
)

var (
	// ErrConnReleased is returned when a released connection is reused.
	ErrConnReleased = errors.New("store: connection already released")

	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("store: transaction already committed or rolled back")
)

type holdingKey struct {
	uid string
	id  string
}

// memState is one consistent copy of every table.
type memState struct {
	accounts      map[string]model.Account
	stocks        map[string]model.Stock
	stockHoldings map[holdingKey][]model.StockHolding
	items         map[string]model.Item
	itemHoldings  map[holdingKey]model.ItemHolding
	requests      map[string]model.Request
	transactions  []model.Transaction
}

func newMemState() *memState {
	return &memState{
		accounts:      make(map[string]model.Account),
		stocks:        make(map[string]model.Stock),
		stockHoldings: make(map[holdingKey][]model.StockHolding),
		items:         make(map[string]model.Item),
		itemHoldings:  make(map[holdingKey]model.ItemHolding),
		requests:      make(map[string]model.Request),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.stockHoldings {
		c.stockHoldings[k] = append([]model.StockHolding(nil), v...)
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.itemHoldings {
		c.itemHoldings[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.transactions = append([]model.Transaction(nil), s.transactions...)
	return c
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction works on a private copy of the state and records its
// writes; Commit replays them onto the live state under the write lock,
// so a failed commit leaves nothing behind.
type MemoryStore struct {
	mu     sync.RWMutex
	live   *memState
	open   int
	faults map[string]error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live:   newMemState(),
		faults: make(map[string]error),
	}
}

// FailOn makes the named operation (a Queries method name, "Begin" or
// "Commit") return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) fault(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults[op]
}

// OpenConns returns the number of acquired, unreleased connections.
func (s *MemoryStore) OpenConns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Acquire(_ context.Context) (Conn, error) {
	if err := s.fault("Acquire"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.open++
	s.mu.Unlock()

	c := &memConn{store: s}
	c.memQueries = &memQueries{view: c.view, write: c.write}
	return c, nil
}

// --- Seeding (tests and local development) ---

func (s *MemoryStore) SeedAccount(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.accounts[a.UID] = a
}

func (s *MemoryStore) SeedStock(st model.Stock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.stocks[st.Ticker] = st
}

func (s *MemoryStore) SeedItem(it model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.items[it.ItemID] = it
}

func (s *MemoryStore) SeedItemHolding(h model.ItemHolding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.itemHoldings[holdingKey{h.UID, h.ItemID}] = h
}

func (s *MemoryStore) SeedStockHolding(h model.StockHolding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := holdingKey{h.UID, h.Ticker}
	s.live.stockHoldings[k] = append(s.live.stockHoldings[k], h)
}

func (s *MemoryStore) SeedRequest(r model.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.requests[r.LevelID] = r
}

// Transactions returns every appended record in insertion order.
func (s *MemoryStore) Transactions() []model.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Transaction(nil), s.live.transactions...)
}

// --- Connection ---

// memConn and memTx embed the same memQueries, differing only in how
// they read and write state.
type memConn struct {
	*memQueries
	store    *MemoryStore
	released bool
}

func (c *memConn) view(fn func(*memState)) error {
	if c.released {
		return ErrConnReleased
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	fn(c.store.live)
	return nil
}

// write outside a transaction commits immediately.
func (c *memConn) write(op string, fn func(*memState) error) error {
	if c.released {
		return ErrConnReleased
	}
	if err := c.store.fault(op); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	next := c.store.live.clone()
	if err := fn(next); err != nil {
		return err
	}
	c.store.live = next
	return nil
}

func (c *memConn) Begin(_ context.Context) (Tx, error) {
	if c.released {
		return nil, ErrConnReleased
	}
	if err := c.store.fault("Begin"); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	work := c.store.live.clone()
	c.store.mu.RUnlock()

	tx := &memTx{store: c.store, work: work}
	tx.memQueries = &memQueries{view: tx.view, write: tx.write}
	return tx, nil
}

func (c *memConn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.store.mu.Lock()
	c.store.open--
	c.store.mu.Unlock()
}

// --- Transaction ---

type memTx struct {
	*memQueries
	store *MemoryStore
	work  *memState
	ops   []func(*memState) error
	done  bool
}

func (t *memTx) view(fn func(*memState)) error {
	if t.done {
		return ErrTxDone
	}
	fn(t.work)
	return nil
}

func (t *memTx) write(op string, fn func(*memState) error) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.store.fault(op); err != nil {
		return err
	}
	if err := fn(t.work); err != nil {
		return err
	}
	t.ops = append(t.ops, fn)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.store.fault("Commit"); err != nil {
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	next := t.store.live.clone()
	for _, op := range t.ops {
		if err := op(next); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	t.store.live = next
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}

// --- Shared query implementation ---

type memQueries struct {
	view  func(func(*memState)) error
	write func(op string, fn func(*memState) error) error
}

func (q *memQueries) GetAccount(_ context.Context, uid string) (*model.Account, error) {
	var out *model.Account
	err := q.view(func(s *memState) {
		if a, ok := s.accounts[uid]; ok {
			out = &a
		}
	})
	return out, err
}

func (q *memQueries) UpdateAccount(_ context.Context, uid string, patch model.AccountPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	return q.write("UpdateAccount", func(s *memState) error {
		a, ok := s.accounts[uid]
		if !ok {
			return fmt.Errorf("account %s not found", uid)
		}
		if patch.Balance != nil {
			a.Balance = *patch.Balance
		}
		if patch.LoanBalance != nil {
			a.LoanBalance = *patch.LoanBalance
		}
		if patch.CreditLimit != nil {
			a.CreditLimit = *patch.CreditLimit
		}
		s.accounts[uid] = a
		return nil
	})
}

func (q *memQueries) GetStock(_ context.Context, ticker string) (*model.Stock, error) {
	var out *model.Stock
	err := q.view(func(s *memState) {
		if st, ok := s.stocks[ticker]; ok {
			out = &st
		}
	})
	return out, err
}

func latestSnapshot(snaps []model.StockHolding) (model.StockHolding, bool) {
	if len(snaps) == 0 {
		return model.StockHolding{}, false
	}
	latest := snaps[0]
	for _, h := range snaps[1:] {
		if h.Timestamp.After(latest.Timestamp) {
			latest = h
		}
	}
	return latest, true
}

func (q *memQueries) GetCurrentStockHolding(_ context.Context, uid, ticker string) (*model.StockHolding, error) {
	var out *model.StockHolding
	err := q.view(func(s *memState) {
		if h, ok := latestSnapshot(s.stockHoldings[holdingKey{uid, ticker}]); ok {
			out = &h
		}
	})
	return out, err
}

func (q *memQueries) InsertStockHolding(_ context.Context, h *model.StockHolding) error {
	snap := *h
	return q.write("InsertStockHolding", func(s *memState) error {
		if snap.Quantity < 0 {
			return fmt.Errorf("stock holding %s/%s: negative quantity %d", snap.UID, snap.Ticker, snap.Quantity)
		}
		k := holdingKey{snap.UID, snap.Ticker}
		for _, existing := range s.stockHoldings[k] {
			if existing.Timestamp.Equal(snap.Timestamp) {
				return fmt.Errorf("stock holding %s/%s at %s already exists", snap.UID, snap.Ticker, snap.Timestamp)
			}
		}
		s.stockHoldings[k] = append(s.stockHoldings[k], snap)
		return nil
	})
}

func (q *memQueries) ListCurrentStockHoldings(_ context.Context, uid string) ([]model.ValuedHolding, error) {
	var out []model.ValuedHolding
	err := q.view(func(s *memState) {
		for k, snaps := range s.stockHoldings {
			if k.uid != uid {
				continue
			}
			h, ok := latestSnapshot(snaps)
			if !ok || h.Quantity == 0 {
				continue
			}
			vh := model.ValuedHolding{StockHolding: h}
			if st, ok := s.stocks[h.Ticker]; ok {
				vh.Price = st.Price
				vh.Value = st.Price.Mul(decimal.NewFromInt(h.Quantity))
				vh.PreviousClose = st.PreviousClose
			}
			out = append(out, vh)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, err
}

func (q *memQueries) ListStockHoldings(_ context.Context, uid, ticker string) ([]model.StockHolding, error) {
	var out []model.StockHolding
	err := q.view(func(s *memState) {
		out = append(out, s.stockHoldings[holdingKey{uid, ticker}]...)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, err
}

func (q *memQueries) ListTopShareholders(_ context.Context, ticker string, limit int) ([]model.StockHolding, error) {
	var out []model.StockHolding
	err := q.view(func(s *memState) {
		for k, snaps := range s.stockHoldings {
			if k.id != ticker {
				continue
			}
			if h, ok := latestSnapshot(snaps); ok && h.Quantity > 0 {
				out = append(out, h)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].UID < out[j].UID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (q *memQueries) GetItem(_ context.Context, itemID string) (*model.Item, error) {
	var out *model.Item
	err := q.view(func(s *memState) {
		if it, ok := s.items[itemID]; ok {
			out = &it
		}
	})
	return out, err
}

func (q *memQueries) GetItemHolding(_ context.Context, uid, itemID string) (*model.ItemHolding, error) {
	var out *model.ItemHolding
	err := q.view(func(s *memState) {
		if h, ok := s.itemHoldings[holdingKey{uid, itemID}]; ok {
			out = &h
		}
	})
	return out, err
}

func (q *memQueries) ListItemHoldings(_ context.Context, uid string) ([]model.ItemHolding, error) {
	var out []model.ItemHolding
	err := q.view(func(s *memState) {
		for k, h := range s.itemHoldings {
			if k.uid == uid {
				out = append(out, h)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, err
}

func (q *memQueries) InsertItemHolding(_ context.Context, h *model.ItemHolding) error {
	holding := *h
	return q.write("InsertItemHolding", func(s *memState) error {
		k := holdingKey{holding.UID, holding.ItemID}
		if _, exists := s.itemHoldings[k]; exists {
			return fmt.Errorf("item holding %s/%s already exists", holding.UID, holding.ItemID)
		}
		s.itemHoldings[k] = holding
		return nil
	})
}

func (q *memQueries) UpdateItemHolding(_ context.Context, uid, itemID string, patch model.ItemHoldingPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	return q.write("UpdateItemHolding", func(s *memState) error {
		k := holdingKey{uid, itemID}
		h, ok := s.itemHoldings[k]
		if !ok {
			return fmt.Errorf("item holding %s/%s not found", uid, itemID)
		}
		if *patch.Quantity < 0 {
			return fmt.Errorf("item holding %s/%s: negative quantity %d", uid, itemID, *patch.Quantity)
		}
		h.Quantity = *patch.Quantity
		s.itemHoldings[k] = h
		return nil
	})
}

func (q *memQueries) GetRequest(_ context.Context, levelID string) (*model.Request, error) {
	var out *model.Request
	err := q.view(func(s *memState) {
		if r, ok := s.requests[levelID]; ok {
			out = &r
		}
	})
	return out, err
}

func (q *memQueries) InsertRequest(_ context.Context, r *model.Request) error {
	req := *r
	return q.write("InsertRequest", func(s *memState) error {
		if _, exists := s.requests[req.LevelID]; exists {
			return fmt.Errorf("request %s already exists", req.LevelID)
		}
		s.requests[req.LevelID] = req
		return nil
	})
}

func (q *memQueries) UpdateRequest(_ context.Context, levelID string, patch model.RequestPatch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	return q.write("UpdateRequest", func(s *memState) error {
		r, ok := s.requests[levelID]
		if !ok {
			return fmt.Errorf("request %s not found", levelID)
		}
		s.requests[levelID] = patch.Apply(r)
		return nil
	})
}

func (q *memQueries) ListRequestsByBounty(_ context.Context, limit int) ([]model.Request, error) {
	var out []model.Request
	err := q.view(func(s *memState) {
		for _, r := range s.requests {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Bounty.Equal(out[j].Bounty) {
			return out[i].Bounty.GreaterThan(out[j].Bounty)
		}
		return out[i].LevelID < out[j].LevelID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (q *memQueries) InsertTransaction(_ context.Context, t *model.Transaction) error {
	rec := *t
	return q.write("InsertTransaction", func(s *memState) error {
		s.transactions = append(s.transactions, rec)
		return nil
	})
}

func (q *memQueries) ListTransactions(_ context.Context, uid string, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	err := q.view(func(s *memState) {
		for i := len(s.transactions) - 1; i >= 0; i-- {
			if s.transactions[i].UID != uid {
				continue
			}
			out = append(out, s.transactions[i])
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, err
}

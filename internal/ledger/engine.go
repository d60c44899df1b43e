// Package ledger is the transaction engine of the economy. Every operation
// runs as one atomic unit on a single pooled connection: read and validate,
// begin, write, append the audit record, commit, release.
//
// Validation reads happen before the transaction opens. Two concurrent
// operations on the same account can therefore both pass validation
// against the same snapshot; the outcome then depends on the database's
// isolation level.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/levels"
	"github.com/atmx/economy-engine/internal/limits"
	"github.com/atmx/economy-engine/internal/metrics"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// Publisher receives every committed transaction record.
type Publisher interface {
	Publish(t model.Transaction)
}

// Options configures an Engine. Zero values are usable: no level lookup,
// no publisher, slog.Default and the wall clock.
type Options struct {
	Levels    levels.Lookup
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine executes ledger operations against a Store.
type Engine struct {
	store  store.Store
	policy *limits.Policy
	levels levels.Lookup
	pub    Publisher
	log    *slog.Logger
	now    func() time.Time

	clockMu sync.Mutex
	last    time.Time
}

// New creates an engine.
func New(st store.Store, policy *limits.Policy, opts Options) *Engine {
	e := &Engine{
		store:  st,
		policy: policy,
		levels: opts.Levels,
		pub:    opts.Publisher,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Policy returns the limits the engine enforces.
func (e *Engine) Policy() *limits.Policy { return e.policy }

// stamp returns a strictly increasing UTC timestamp at microsecond
// precision, the resolution PostgreSQL stores.
func (e *Engine) stamp() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	ts := e.now().UTC().Truncate(time.Microsecond)
	if !ts.After(e.last) {
		ts = e.last.Add(time.Microsecond)
	}
	e.last = ts
	return ts
}

// withConn acquires one connection for the whole operation and releases it
// on every exit path. Storage errors are wrapped with op; taxonomy errors
// pass through as is.
func (e *Engine) withConn(ctx context.Context, op string, fn func(conn store.Conn) error) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation(op, outcome(err), started) }()

	conn, err := e.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: acquire: %w", op, err)
	}
	defer conn.Release()

	if err := fn(conn); err != nil {
		if ledgererr.As(err) != nil {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// inTx runs fn inside a transaction on conn. Any error rolls back before
// it is returned. Commit and rollback ignore caller cancellation so an
// in-flight transaction always runs to completion.
func (e *Engine) inTx(ctx context.Context, conn store.Conn, op string, fn func(tx store.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	finish := context.WithoutCancel(ctx)

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(finish); rbErr != nil {
			e.log.Error("rollback failed", "op", op, "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(finish); err != nil {
		_ = tx.Rollback(finish)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// committed publishes and accounts for a durable transaction record.
func (e *Engine) committed(t *model.Transaction) {
	metrics.MoneyMoved.WithLabelValues(string(t.Type)).Add(t.BalanceChange.Abs().InexactFloat64())
	if e.pub != nil {
		e.pub.Publish(*t)
	}
}

func (e *Engine) newRecord(typ model.TransactionType, uid string, ts time.Time) *model.Transaction {
	return &model.Transaction{
		ID:        uuid.NewString(),
		Type:      typ,
		UID:       uid,
		Timestamp: ts,
	}
}

// limitRejected counts a rejection and returns err unchanged.
func limitRejected(err *ledgererr.Error) error {
	metrics.LimitRejections.WithLabelValues(string(err.Kind)).Inc()
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := ledgererr.KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// --- Shared reads ---

func requireAccount(ctx context.Context, q store.Queries, uid string) (*model.Account, error) {
	acct, err := q.GetAccount(ctx, uid)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ledgererr.UserNotFound(uid)
	}
	return acct, nil
}

func requireStock(ctx context.Context, q store.Queries, ticker string) (*model.Stock, error) {
	st, err := q.GetStock(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ledgererr.StockNotFound(ticker)
	}
	return st, nil
}

func heldShares(ctx context.Context, q store.Queries, uid, ticker string) (int64, error) {
	h, err := q.GetCurrentStockHolding(ctx, uid, ticker)
	if err != nil {
		return 0, err
	}
	if h == nil {
		return 0, nil
	}
	return h.Quantity, nil
}

func heldItems(ctx context.Context, q store.Queries, uid, itemID string) (*model.ItemHolding, error) {
	h, err := q.GetItemHolding(ctx, uid, itemID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return &model.ItemHolding{UID: uid, ItemID: itemID}, nil
	}
	return h, nil
}

// heldCards returns uid's holdings of credit-card items.
func heldCards(ctx context.Context, q store.Queries, uid string) ([]model.ItemHolding, error) {
	inventory, err := q.ListItemHoldings(ctx, uid)
	if err != nil {
		return nil, err
	}
	var cards []model.ItemHolding
	for _, h := range inventory {
		if h.Quantity < 1 {
			continue
		}
		it, err := q.GetItem(ctx, h.ItemID)
		if err != nil {
			return nil, err
		}
		if it != nil && it.Type == model.ItemTypeCreditCard {
			cards = append(cards, h)
		}
	}
	return cards, nil
}

func portfolioValue(holdings []model.ValuedHolding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.Value)
	}
	return total
}

// checkOutgoing applies the balance and net-worth rules shared by user
// wires and bounty contributions.
func (e *Engine) checkOutgoing(ctx context.Context, q store.Queries, acct *model.Account, amount decimal.Decimal) error {
	if acct.Balance.LessThan(amount) {
		return limitRejected(ledgererr.InsufficientBalance(acct.UID, acct.Balance, amount))
	}
	holdings, err := q.ListCurrentStockHoldings(ctx, acct.UID)
	if err != nil {
		return err
	}
	netWorth := acct.NetWorth(portfolioValue(holdings))
	if err := e.policy.CheckNetWorth(netWorth, amount); err != nil {
		return limitRejected(ledgererr.InsufficientNetWorth(acct.UID, netWorth, amount, e.policy.MinHeldWire))
	}
	return nil
}

func requirePositive(name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return ledgererr.InvalidInput(fmt.Sprintf("%s must be positive, got %s", name, v))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// Package store defines the persistence interface for the economy engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/economy-engine/internal/model"
)

// ErrEmptyPatch is returned by partial updates that set no field.
var ErrEmptyPatch = errors.New("store: no fields to update")

// Store hands out connections. Every ledger operation acquires exactly one
// and must release it on every exit path.
type Store interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
}

// Conn is one pooled connection. Reads issued on it run outside any
// transaction; Begin opens the atomic unit of work on the same connection.
type Conn interface {
	Queries
	Begin(ctx context.Context) (Tx, error)
	Release()
}

// CachedReads is implemented by connections that can answer display reads
// from a cache. Results may trail committed writes by up to the cache TTL,
// so nothing that moves money reads through it.
type CachedReads interface {
	CachedRequest(ctx context.Context, levelID string) (*model.Request, error)
	CachedRequestPool(ctx context.Context, limit int) ([]model.Request, error)
}

// Tx is an open transaction. Writes become visible on Commit and are
// discarded on Rollback. Rollback after Commit is a no-op.
type Tx interface {
	Queries
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Queries is the per-entity read/write surface. Lookups of absent rows
// return (nil, nil). No method validates across entities.
type Queries interface {
	// --- Accounts ---

	// GetAccount fetches an account by user ID.
	GetAccount(ctx context.Context, uid string) (*model.Account, error)

	// UpdateAccount applies a partial update.
	UpdateAccount(ctx context.Context, uid string, patch model.AccountPatch) error

	// --- Stocks (read-only) ---

	GetStock(ctx context.Context, ticker string) (*model.Stock, error)

	// --- Stock holdings (append-only snapshots) ---

	// GetCurrentStockHolding returns the snapshot with the latest timestamp.
	GetCurrentStockHolding(ctx context.Context, uid, ticker string) (*model.StockHolding, error)

	// InsertStockHolding appends a new snapshot.
	InsertStockHolding(ctx context.Context, h *model.StockHolding) error

	// ListCurrentStockHoldings returns the current snapshot per ticker,
	// valued at the stock's current price. Zero-quantity holdings are omitted.
	ListCurrentStockHoldings(ctx context.Context, uid string) ([]model.ValuedHolding, error)

	// ListStockHoldings returns every snapshot for (uid, ticker), oldest first.
	ListStockHoldings(ctx context.Context, uid, ticker string) ([]model.StockHolding, error)

	// ListTopShareholders returns the current snapshot of the limit largest
	// holders of ticker, by quantity descending then uid. Zero positions
	// are omitted.
	ListTopShareholders(ctx context.Context, ticker string, limit int) ([]model.StockHolding, error)

	// --- Items ---

	GetItem(ctx context.Context, itemID string) (*model.Item, error)

	// --- Item holdings (mutable counters) ---

	GetItemHolding(ctx context.Context, uid, itemID string) (*model.ItemHolding, error)
	ListItemHoldings(ctx context.Context, uid string) ([]model.ItemHolding, error)
	InsertItemHolding(ctx context.Context, h *model.ItemHolding) error
	UpdateItemHolding(ctx context.Context, uid, itemID string, patch model.ItemHoldingPatch) error

	// --- Bounty requests ---

	GetRequest(ctx context.Context, levelID string) (*model.Request, error)
	InsertRequest(ctx context.Context, r *model.Request) error
	UpdateRequest(ctx context.Context, levelID string, patch model.RequestPatch) error

	// ListRequestsByBounty returns the top limit requests by bounty, descending.
	ListRequestsByBounty(ctx context.Context, limit int) ([]model.Request, error)

	// --- Immutable ledger ---

	// InsertTransaction appends an immutable transaction record.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// ListTransactions returns a user's records, newest first.
	ListTransactions(ctx context.Context, uid string, limit int) ([]model.Transaction, error)
}

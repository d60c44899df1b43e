package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.SeedAccount(model.Account{UID: "u1", Balance: d(100)})
	ms.SeedStock(model.Stock{Ticker: "GD", Price: d(10)})
	ms.SeedItem(model.Item{ItemID: "010", Name: "Bronze Card", Type: model.ItemTypeCreditCard})
	return ms
}

func acquire(t *testing.T, ms *store.MemoryStore) store.Conn {
	t.Helper()
	conn, err := ms.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	t.Cleanup(conn.Release)
	return conn
}

func balanceOf(t *testing.T, q store.Queries, uid string) decimal.Decimal {
	t.Helper()
	a, err := q.GetAccount(context.Background(), uid)
	if err != nil || a == nil {
		t.Fatalf("get account %s: %v", uid, err)
	}
	return a.Balance
}

func TestMemoryStore_AbsentRowsAreNil(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()

	if a, err := conn.GetAccount(ctx, "nobody"); err != nil || a != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", a, err)
	}
	if h, err := conn.GetCurrentStockHolding(ctx, "u1", "GD"); err != nil || h != nil {
		t.Errorf("expected no holding, got (%v, %v)", h, err)
	}
	if r, err := conn.GetRequest(ctx, "lvl"); err != nil || r != nil {
		t.Errorf("expected no request, got (%v, %v)", r, err)
	}
}

func TestMemoryStore_CommitPublishesWrites(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	bal := d(40)
	if err := tx.UpdateAccount(ctx, "u1", model.AccountPatch{Balance: &bal}); err != nil {
		t.Fatal(err)
	}

	// Uncommitted writes are visible inside the tx only.
	if got := balanceOf(t, tx, "u1"); !got.Equal(d(40)) {
		t.Errorf("tx view: expected 40, got %s", got)
	}
	if got := balanceOf(t, conn, "u1"); !got.Equal(d(100)) {
		t.Errorf("conn view before commit: expected 100, got %s", got)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if got := balanceOf(t, conn, "u1"); !got.Equal(d(40)) {
		t.Errorf("after commit: expected 40, got %s", got)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("rollback after commit should be a no-op, got %v", err)
	}
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()

	tx, _ := conn.Begin(ctx)
	bal := d(0)
	_ = tx.UpdateAccount(ctx, "u1", model.AccountPatch{Balance: &bal})
	_ = tx.InsertTransaction(ctx, &model.Transaction{ID: "t1", Type: model.TransactionWire, UID: "u1"})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	if got := balanceOf(t, conn, "u1"); !got.Equal(d(100)) {
		t.Errorf("expected 100 after rollback, got %s", got)
	}
	if n := len(ms.Transactions()); n != 0 {
		t.Errorf("expected no records after rollback, got %d", n)
	}
	if _, err := tx.GetAccount(ctx, "u1"); !errors.Is(err, store.ErrTxDone) {
		t.Errorf("expected ErrTxDone, got %v", err)
	}
}

func TestMemoryStore_FailedCommitLeavesNothing(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()
	boom := errors.New("disk full")
	ms.FailOn("Commit", boom)

	tx, _ := conn.Begin(ctx)
	bal := d(1)
	_ = tx.UpdateAccount(ctx, "u1", model.AccountPatch{Balance: &bal})
	if err := tx.Commit(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected injected commit error, got %v", err)
	}
	if got := balanceOf(t, conn, "u1"); !got.Equal(d(100)) {
		t.Errorf("expected untouched balance, got %s", got)
	}
}

func TestMemoryStore_FailOnQuery(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()
	boom := errors.New("constraint violation")
	ms.FailOn("InsertTransaction", boom)

	tx, _ := conn.Begin(ctx)
	if err := tx.InsertTransaction(ctx, &model.Transaction{ID: "t1"}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	_ = tx.Rollback(ctx)

	ms.FailOn("InsertTransaction", nil)
	tx, _ = conn.Begin(ctx)
	if err := tx.InsertTransaction(ctx, &model.Transaction{ID: "t2"}); err != nil {
		t.Errorf("cleared fault should not fire, got %v", err)
	}
}

func TestMemoryStore_LatestSnapshotIsCurrent(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order: current is decided by timestamp, not insertion.
	for _, h := range []model.StockHolding{
		{UID: "u1", Ticker: "GD", Quantity: 7, Timestamp: base.Add(2 * time.Second)},
		{UID: "u1", Ticker: "GD", Quantity: 3, Timestamp: base},
	} {
		h := h
		if err := conn.InsertStockHolding(ctx, &h); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := conn.GetCurrentStockHolding(ctx, "u1", "GD")
	if err != nil || cur == nil {
		t.Fatalf("expected a current holding: %v", err)
	}
	if cur.Quantity != 7 {
		t.Errorf("expected latest quantity 7, got %d", cur.Quantity)
	}

	hist, _ := conn.ListStockHoldings(ctx, "u1", "GD")
	if len(hist) != 2 || hist[0].Quantity != 3 || hist[1].Quantity != 7 {
		t.Errorf("expected history oldest first [3 7], got %+v", hist)
	}

	valued, _ := conn.ListCurrentStockHoldings(ctx, "u1")
	if len(valued) != 1 || !valued[0].Value.Equal(d(70)) {
		t.Errorf("expected one holding valued 70, got %+v", valued)
	}
}

func TestMemoryStore_SnapshotConstraints(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := conn.InsertStockHolding(ctx, &model.StockHolding{UID: "u1", Ticker: "GD", Quantity: -1, Timestamp: ts}); err == nil {
		t.Error("negative snapshot should be rejected")
	}
	_ = conn.InsertStockHolding(ctx, &model.StockHolding{UID: "u1", Ticker: "GD", Quantity: 1, Timestamp: ts})
	if err := conn.InsertStockHolding(ctx, &model.StockHolding{UID: "u1", Ticker: "GD", Quantity: 2, Timestamp: ts}); err == nil {
		t.Error("duplicate snapshot timestamp should be rejected")
	}
}

func TestMemoryStore_ZeroHoldingsOmitted(t *testing.T) {
	ms := seeded(t)
	ms.SeedStockHolding(model.StockHolding{UID: "u1", Ticker: "GD", Quantity: 0, Timestamp: time.Now()})
	conn := acquire(t, ms)

	valued, err := conn.ListCurrentStockHoldings(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(valued) != 0 {
		t.Errorf("zero holdings should be omitted, got %+v", valued)
	}
}

func TestMemoryStore_RequestsByBounty(t *testing.T) {
	ms := seeded(t)
	ms.SeedRequest(model.Request{LevelID: "b", Bounty: d(50)})
	ms.SeedRequest(model.Request{LevelID: "a", Bounty: d(50)})
	ms.SeedRequest(model.Request{LevelID: "c", Bounty: d(90)})
	ms.SeedRequest(model.Request{LevelID: "d", Bounty: d(10)})
	conn := acquire(t, ms)

	reqs, err := conn.ListRequestsByBounty(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "a", "b"}
	if len(reqs) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(reqs))
	}
	for i, id := range want {
		if reqs[i].LevelID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, reqs[i].LevelID)
		}
	}
}

func TestMemoryStore_UpdatePatches(t *testing.T) {
	ms := seeded(t)
	ms.SeedRequest(model.Request{LevelID: "lvl", Bounty: d(5), Name: "Old"})
	ms.SeedItemHolding(model.ItemHolding{UID: "u1", ItemID: "010", Quantity: 1})
	conn := acquire(t, ms)
	ctx := context.Background()

	if err := conn.UpdateRequest(ctx, "lvl", model.RequestPatch{}); !errors.Is(err, store.ErrEmptyPatch) {
		t.Errorf("expected ErrEmptyPatch, got %v", err)
	}
	name := "New"
	if err := conn.UpdateRequest(ctx, "lvl", model.RequestPatch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	r, _ := conn.GetRequest(ctx, "lvl")
	if r.Name != "New" || !r.Bounty.Equal(d(5)) {
		t.Errorf("patch should only change name, got %+v", r)
	}

	neg := int64(-1)
	if err := conn.UpdateItemHolding(ctx, "u1", "010", model.ItemHoldingPatch{Quantity: &neg}); err == nil {
		t.Error("negative item quantity should be rejected")
	}
}

func TestMemoryStore_ListTransactionsNewestFirst(t *testing.T) {
	ms := seeded(t)
	conn := acquire(t, ms)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := conn.InsertTransaction(ctx, &model.Transaction{ID: id, UID: "u1", Type: model.TransactionBuy}); err != nil {
			t.Fatal(err)
		}
	}
	_ = conn.InsertTransaction(ctx, &model.Transaction{ID: "other", UID: "u2", Type: model.TransactionBuy})

	txs, err := conn.ListTransactions(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].ID != "t3" || txs[1].ID != "t2" {
		t.Errorf("expected [t3 t2], got %+v", txs)
	}
}

func TestMemoryStore_OpenConns(t *testing.T) {
	ms := seeded(t)
	ctx := context.Background()

	c1, _ := ms.Acquire(ctx)
	c2, _ := ms.Acquire(ctx)
	if n := ms.OpenConns(); n != 2 {
		t.Errorf("expected 2 open, got %d", n)
	}
	c1.Release()
	c1.Release()
	c2.Release()
	if n := ms.OpenConns(); n != 0 {
		t.Errorf("expected 0 open after release, got %d", n)
	}
	if _, err := c1.GetAccount(ctx, "u1"); !errors.Is(err, store.ErrConnReleased) {
		t.Errorf("expected ErrConnReleased, got %v", err)
	}
}

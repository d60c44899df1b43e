package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledger"
	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// seedWorld gives u1 enough of everything for every operation to succeed.
func seedWorld(ms *store.MemoryStore) {
	ms.SeedAccount(model.Account{UID: "u1", Balance: d(1000), CreditLimit: d(500)})
	ms.SeedAccount(model.Account{UID: "u2", Balance: d(10)})
	ms.SeedStock(model.Stock{Ticker: "GD", Price: d(40)})
	ms.SeedStockHolding(model.StockHolding{UID: "u1", Ticker: "GD", Quantity: 5, Timestamp: epoch.Add(-time.Hour)})
	ms.SeedItem(model.Item{ItemID: "010", Name: "Bronze Card", Type: model.ItemTypeCreditCard})
	ms.SeedItem(model.Item{ItemID: "900", Name: "Booster", Type: model.ItemTypeBoosterPack})
	ms.SeedItemHolding(model.ItemHolding{UID: "u1", ItemID: "900", Quantity: 3})
	ms.SeedRequest(model.Request{LevelID: "open", Bounty: d(200)})
}

type recordedOp struct {
	name string
	run  func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error)
	// writes lists the store operations the call performs inside its transaction.
	writes []string
}

var recordedOps = []recordedOp{
	{"buy", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.BuyStock(ctx, "u1", "GD", 2, false)
	}, []string{"InsertStockHolding", "UpdateAccount", "InsertTransaction"}},
	{"buy on credit", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.BuyStock(ctx, "u1", "GD", 30, true)
	}, []string{"InsertStockHolding", "UpdateAccount", "InsertTransaction"}},
	{"sell", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.SellStock(ctx, "u1", "GD", 4)
	}, []string{"InsertStockHolding", "UpdateAccount", "InsertTransaction"}},
	{"wire to user", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.WireToUser(ctx, "u1", "u2", d(300), "memo")
	}, []string{"UpdateAccount", "InsertTransaction"}},
	{"wire to entity", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.WireToEntity(ctx, "u1", "Casino", d(25), "")
	}, []string{"UpdateAccount", "InsertTransaction"}},
	{"contribute new", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.ContributeBounty(ctx, "u1", "fresh", d(77))
	}, []string{"InsertRequest", "UpdateRequest", "UpdateAccount", "InsertTransaction"}},
	{"contribute existing", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.ContributeBounty(ctx, "u1", "open", d(50))
	}, []string{"UpdateRequest", "UpdateAccount", "InsertTransaction"}},
	{"accept", func(ctx context.Context, e *ledger.Engine) (*model.Transaction, error) {
		return e.AcceptBounty(ctx, "u2", "open")
	}, []string{"UpdateRequest", "UpdateAccount", "InsertTransaction"}},
}

type snapshot struct {
	balances map[string]decimal.Decimal
	loans    map[string]decimal.Decimal
	shares   int64
	history  int
	boosters int64
	records  int
	pool     []model.Request
}

func takeSnapshot(t *testing.T, env *testEnv) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{balances: map[string]decimal.Decimal{}, loans: map[string]decimal.Decimal{}}
	for _, uid := range []string{"u1", "u2"} {
		a := env.account(t, uid)
		s.balances[uid] = a.Balance
		s.loans[uid] = a.LoanBalance
	}
	hist, _ := env.engine.StockHistory(ctx, "u1", "GD")
	s.history = len(hist)
	s.shares = env.shares(t, "u1", "GD")
	s.boosters = env.items(t, "u1", "900")
	s.records = len(env.ms.Transactions())
	s.pool, _ = env.engine.ViewRequestPool(ctx, 10)
	return s
}

func (s snapshot) equal(o snapshot) bool {
	for uid, b := range s.balances {
		if !b.Equal(o.balances[uid]) || !s.loans[uid].Equal(o.loans[uid]) {
			return false
		}
	}
	if s.shares != o.shares || s.history != o.history || s.boosters != o.boosters || s.records != o.records {
		return false
	}
	if len(s.pool) != len(o.pool) {
		return false
	}
	for i := range s.pool {
		if s.pool[i].LevelID != o.pool[i].LevelID || !s.pool[i].Bounty.Equal(o.pool[i].Bounty) {
			return false
		}
	}
	return true
}

func TestAtomicity_FailedWriteLeavesNoTrace(t *testing.T) {
	for _, op := range recordedOps {
		for _, failing := range append(op.writes, "Begin", "Commit") {
			t.Run(op.name+"/"+failing, func(t *testing.T) {
				env := newTestEnv(t)
				seedWorld(env.ms)
				before := takeSnapshot(t, env)

				boom := errors.New("injected " + failing + " failure")
				env.ms.FailOn(failing, boom)
				_, err := op.run(context.Background(), env.engine)
				env.ms.FailOn(failing, nil)

				if !errors.Is(err, boom) {
					t.Fatalf("expected injected error, got %v", err)
				}
				if ledgererr.As(err) != nil {
					t.Errorf("storage failure surfaced as taxonomy error: %v", err)
				}
				if after := takeSnapshot(t, env); !before.equal(after) {
					t.Errorf("state changed after failed operation:\nbefore %+v\nafter  %+v", before, after)
				}
				if env.pub.count() != 0 {
					t.Error("failed operation was published")
				}
			})
		}
	}
}

func TestAtomicity_ItemOperations(t *testing.T) {
	tests := []struct {
		name    string
		failing string
		run     func(ctx context.Context, e *ledger.Engine) error
	}{
		{"replace/insert", "InsertItemHolding", func(ctx context.Context, e *ledger.Engine) error {
			return e.ReplaceItemWithNew(ctx, "u1", "900", "010")
		}},
		{"replace/update", "UpdateItemHolding", func(ctx context.Context, e *ledger.Engine) error {
			return e.ReplaceItemWithNew(ctx, "u1", "900", "010")
		}},
		{"cash/credit", "UpdateAccount", func(ctx context.Context, e *ledger.Engine) error {
			return e.CashItem(ctx, "u1", "900", d(15))
		}},
		{"cash/commit", "Commit", func(ctx context.Context, e *ledger.Engine) error {
			return e.CashItem(ctx, "u1", "900", d(15))
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			seedWorld(env.ms)
			before := takeSnapshot(t, env)

			env.ms.FailOn(tc.failing, errors.New("injected"))
			err := tc.run(context.Background(), env.engine)
			env.ms.FailOn(tc.failing, nil)
			if err == nil {
				t.Fatal("expected failure")
			}

			if after := takeSnapshot(t, env); !before.equal(after) {
				t.Errorf("state changed:\nbefore %+v\nafter  %+v", before, after)
			}
			if q := env.items(t, "u1", "010"); q != 0 {
				t.Errorf("new item holding leaked: %d", q)
			}
		})
	}
}

func TestExactlyOneRecord(t *testing.T) {
	for _, op := range recordedOps {
		t.Run(op.name, func(t *testing.T) {
			env := newTestEnv(t)
			seedWorld(env.ms)
			ctx := context.Background()

			initiator := "u1"
			if op.name == "accept" {
				initiator = "u2"
			}
			before := env.account(t, initiator)

			rec, err := op.run(ctx, env.engine)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			records := env.ms.Transactions()
			if len(records) != 1 {
				t.Fatalf("expected exactly one record, got %d", len(records))
			}
			if records[0].ID != rec.ID || records[0].UID != initiator {
				t.Errorf("stored record %+v does not match returned %+v", records[0], rec)
			}

			after := env.account(t, initiator)
			if delta := after.Balance.Sub(before.Balance); !delta.Equal(rec.BalanceChange) {
				t.Errorf("balance moved by %s, record says %s", delta, rec.BalanceChange)
			}
			if after.LoanBalance.GreaterThan(after.CreditLimit) {
				t.Errorf("loan %s exceeds limit %s", after.LoanBalance, after.CreditLimit)
			}
			if after.Balance.Add(after.AvailableCredit()).IsNegative() {
				t.Errorf("balance + available credit negative: %s", after.Balance.Add(after.AvailableCredit()))
			}
		})
	}
}

func TestConnectionsReleased_OnStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(env.ms)
	env.ms.FailOn("Begin", errors.New("connection reset"))
	ctx := context.Background()

	for _, op := range recordedOps {
		if _, err := op.run(ctx, env.engine); err == nil {
			t.Errorf("%s: expected failure", op.name)
		}
		if n := env.ms.OpenConns(); n != 0 {
			t.Fatalf("%s: %d connection(s) still open", op.name, n)
		}
	}
}

func TestConnectionsReleased_OnValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(env.ms)
	ctx := context.Background()

	_, _ = env.engine.SellStock(ctx, "u1", "GD", 99)
	_, _ = env.engine.WireToUser(ctx, "u1", "ghost", d(1), "")
	_ = env.engine.CashItem(ctx, "u1", "010", d(1))
	_, _ = env.engine.AcceptBounty(ctx, "u1", "nothing")

	if n := env.ms.OpenConns(); n != 0 {
		t.Fatalf("%d connection(s) still open", n)
	}
}

func TestConnectionsReleased_OnAcquireFailure(t *testing.T) {
	env := newTestEnv(t)
	seedWorld(env.ms)
	boom := errors.New("too many clients")
	env.ms.FailOn("Acquire", boom)

	_, err := env.engine.BuyStock(context.Background(), "u1", "GD", 1, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected acquire error, got %v", err)
	}
}

// gatedStore holds every Begin until n operations have reached it, forcing
// concurrent operations to validate against the same snapshot.
type gatedStore struct {
	store.Store
	gate *sync.WaitGroup
}

func (g gatedStore) Acquire(ctx context.Context) (store.Conn, error) {
	conn, err := g.Store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return gatedConn{Conn: conn, gate: g.gate}, nil
}

type gatedConn struct {
	store.Conn
	gate *sync.WaitGroup
}

func (c gatedConn) Begin(ctx context.Context) (store.Tx, error) {
	c.gate.Done()
	c.gate.Wait()
	return c.Conn.Begin(ctx)
}

func TestConcurrentSells_ValidateAgainstSameSnapshot(t *testing.T) {
	var gate sync.WaitGroup
	gate.Add(2)
	ms := store.NewMemoryStore()
	env := newTestEnvWithStore(t, ms, func(st store.Store) store.Store {
		return gatedStore{Store: st, gate: &gate}
	})
	ms.SeedAccount(model.Account{UID: "u1", Balance: d(0)})
	ms.SeedStock(model.Stock{Ticker: "GD", Price: d(40)})
	ms.SeedStockHolding(model.StockHolding{UID: "u1", Ticker: "GD", Quantity: 2, Timestamp: epoch.Add(-time.Hour)})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.SellStock(context.Background(), "u1", "GD", 2)
		}(i)
	}
	wg.Wait()

	// Both sells saw 2 shares before either began, so both pass validation.
	for i, err := range errs {
		if err != nil {
			t.Fatalf("sell %d: %v", i, err)
		}
	}
	if n := len(ms.Transactions()); n != 2 {
		t.Errorf("expected 2 sell records, got %d", n)
	}
	if q := env.shares(t, "u1", "GD"); q != 0 {
		t.Errorf("holding must never go negative, got %d", q)
	}
}

package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// DefaultTransactionLimit bounds Transactions when the caller passes no limit.
const DefaultTransactionLimit = 50

// ViewRequestPool returns the limit requests with the highest bounty. It
// may be served from a cache.
func (e *Engine) ViewRequestPool(ctx context.Context, limit int) ([]model.Request, error) {
	if limit <= 0 {
		return nil, ledgererr.InvalidInput(fmt.Sprintf("limit must be positive, got %d", limit))
	}
	var reqs []model.Request
	err := e.withConn(ctx, "view_request_pool", func(conn store.Conn) error {
		var err error
		if cr, ok := conn.(store.CachedReads); ok {
			reqs, err = cr.CachedRequestPool(ctx, limit)
		} else {
			reqs, err = conn.ListRequestsByBounty(ctx, limit)
		}
		return err
	})
	return reqs, err
}

// GetRequest returns the request attached to levelID. It may be served
// from a cache.
func (e *Engine) GetRequest(ctx context.Context, levelID string) (*model.Request, error) {
	var req *model.Request
	err := e.withConn(ctx, "get_request", func(conn store.Conn) error {
		var err error
		if cr, ok := conn.(store.CachedReads); ok {
			req, err = cr.CachedRequest(ctx, levelID)
		} else {
			req, err = conn.GetRequest(ctx, levelID)
		}
		if err != nil {
			return err
		}
		if req == nil {
			return ledgererr.RequestNotFound(levelID)
		}
		return nil
	})
	return req, err
}

// UpdateRequest applies patch to levelID's request and returns the result.
func (e *Engine) UpdateRequest(ctx context.Context, levelID string, patch model.RequestPatch) (*model.Request, error) {
	if patch.IsEmpty() {
		return nil, ledgererr.InvalidInput("no fields to update")
	}
	if patch.Bounty != nil && patch.Bounty.IsNegative() {
		return nil, ledgererr.InvalidInput("bounty must not be negative")
	}

	var updated model.Request
	err := e.withConn(ctx, "update_request", func(conn store.Conn) error {
		req, err := conn.GetRequest(ctx, levelID)
		if err != nil {
			return err
		}
		if req == nil {
			return ledgererr.RequestNotFound(levelID)
		}
		if err := conn.UpdateRequest(ctx, levelID, patch); err != nil {
			return err
		}
		updated = patch.Apply(*req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("request updated", "level", levelID)
	return &updated, nil
}

// Account returns uid's account.
func (e *Engine) Account(ctx context.Context, uid string) (*model.Account, error) {
	var acct *model.Account
	err := e.withConn(ctx, "get_account", func(conn store.Conn) error {
		var err error
		acct, err = requireAccount(ctx, conn, uid)
		return err
	})
	return acct, err
}

// Portfolio returns uid's account with current holdings valued at current
// prices and the item inventory.
func (e *Engine) Portfolio(ctx context.Context, uid string) (*model.Portfolio, error) {
	var p model.Portfolio
	err := e.withConn(ctx, "get_portfolio", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		holdings, err := conn.ListCurrentStockHoldings(ctx, uid)
		if err != nil {
			return err
		}
		inventory, err := conn.ListItemHoldings(ctx, uid)
		if err != nil {
			return err
		}
		if holdings == nil {
			holdings = []model.ValuedHolding{}
		}
		if inventory == nil {
			inventory = []model.ItemHolding{}
		}

		value := portfolioValue(holdings)
		p = model.Portfolio{
			Account:         *acct,
			Holdings:        holdings,
			Inventory:       inventory,
			PortfolioValue:  value,
			NetWorth:        acct.NetWorth(value),
			AvailableCredit: acct.AvailableCredit(),
			DayChange:       dayChange(holdings),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// dayChange values holdings against each stock's previous close.
func dayChange(holdings []model.ValuedHolding) model.DayChange {
	diff, baseline := decimal.Zero, decimal.Zero
	for _, h := range holdings {
		diff = diff.Add(h.Value)
		if h.PreviousClose.Valid {
			prev := h.PreviousClose.Decimal.Mul(decimal.NewFromInt(h.Quantity))
			diff = diff.Sub(prev)
			baseline = baseline.Add(prev)
		}
	}
	dc := model.DayChange{Diff: diff}
	if baseline.IsPositive() {
		dc.Percent = decimal.NewNullDecimal(diff.Div(baseline).Round(4))
	}
	return dc
}

// TopShareholders returns the limit largest current holders of ticker.
func (e *Engine) TopShareholders(ctx context.Context, ticker string, limit int) ([]model.StockHolding, error) {
	if limit <= 0 {
		return nil, ledgererr.InvalidInput(fmt.Sprintf("limit must be positive, got %d", limit))
	}
	var holders []model.StockHolding
	err := e.withConn(ctx, "top_shareholders", func(conn store.Conn) error {
		if _, err := requireStock(ctx, conn, ticker); err != nil {
			return err
		}
		var err error
		holders, err = conn.ListTopShareholders(ctx, ticker, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if holders == nil {
		holders = []model.StockHolding{}
	}
	return holders, nil
}

// StockHistory returns every snapshot of uid's position in ticker, oldest first.
func (e *Engine) StockHistory(ctx context.Context, uid, ticker string) ([]model.StockHolding, error) {
	var snaps []model.StockHolding
	err := e.withConn(ctx, "stock_history", func(conn store.Conn) error {
		if _, err := requireAccount(ctx, conn, uid); err != nil {
			return err
		}
		if _, err := requireStock(ctx, conn, ticker); err != nil {
			return err
		}
		var err error
		snaps, err = conn.ListStockHoldings(ctx, uid, ticker)
		return err
	})
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []model.StockHolding{}
	}
	return snaps, nil
}

// Transactions returns uid's audit records, newest first.
func (e *Engine) Transactions(ctx context.Context, uid string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	var txs []model.Transaction
	err := e.withConn(ctx, "list_transactions", func(conn store.Conn) error {
		if _, err := requireAccount(ctx, conn, uid); err != nil {
			return err
		}
		var err error
		txs, err = conn.ListTransactions(ctx, uid, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

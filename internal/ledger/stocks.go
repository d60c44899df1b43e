package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/metrics"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// BuyStock buys quantity shares of ticker at the current price. When the
// balance falls short and useCredit is set, the shortfall is drawn on the
// account's credit line, provided balance + available credit covers the
// whole cost.
func (e *Engine) BuyStock(ctx context.Context, uid, ticker string, quantity int64, useCredit bool) (*model.Transaction, error) {
	if quantity <= 0 {
		return nil, ledgererr.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", quantity))
	}

	var rec *model.Transaction
	err := e.withConn(ctx, "buy_stock", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		stock, err := requireStock(ctx, conn, ticker)
		if err != nil {
			return err
		}
		held, err := heldShares(ctx, conn, uid, ticker)
		if err != nil {
			return err
		}

		cost := stock.Price.Mul(decimal.NewFromInt(quantity))
		creditUsed, err := e.policy.PlanPurchase(*acct, cost, useCredit)
		if err != nil {
			return limitRejected(ledgererr.InsufficientBalance(uid, acct.Balance, cost))
		}

		ts := e.stamp()
		rec = e.newRecord(model.TransactionBuy, uid, ts)
		rec.Ticker = ticker
		rec.Quantity = quantity
		rec.Price = stock.Price
		rec.TotalPrice = cost
		rec.CreditChange = creditUsed
		rec.BalanceChange = creditUsed.Sub(cost)

		return e.inTx(ctx, conn, "buy_stock", func(tx store.Tx) error {
			if err := tx.InsertStockHolding(ctx, &model.StockHolding{
				UID: uid, Ticker: ticker, Quantity: held + quantity, Timestamp: ts,
			}); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, uid, model.AccountPatch{
				Balance:     ptr(acct.Balance.Add(rec.BalanceChange)),
				LoanBalance: ptr(acct.LoanBalance.Add(creditUsed)),
			}); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, rec)
		})
	})
	if err != nil {
		return nil, err
	}

	if rec.CreditChange.IsPositive() {
		metrics.CreditDrawn.Add(rec.CreditChange.InexactFloat64())
	}
	e.committed(rec)
	e.log.Info("stock bought",
		"tx_id", rec.ID,
		"uid", uid,
		"ticker", ticker,
		"qty", quantity,
		"price", rec.Price.String(),
		"cost", rec.TotalPrice.String(),
		"credit_used", rec.CreditChange.String(),
	)
	return rec, nil
}

// SellStock sells quantity shares of ticker at the current price.
func (e *Engine) SellStock(ctx context.Context, uid, ticker string, quantity int64) (*model.Transaction, error) {
	if quantity <= 0 {
		return nil, ledgererr.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", quantity))
	}

	var rec *model.Transaction
	err := e.withConn(ctx, "sell_stock", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		stock, err := requireStock(ctx, conn, ticker)
		if err != nil {
			return err
		}
		held, err := heldShares(ctx, conn, uid, ticker)
		if err != nil {
			return err
		}
		if held < quantity {
			return limitRejected(ledgererr.InsufficientStockQuantity(uid, ticker, held, quantity))
		}

		proceeds := stock.Price.Mul(decimal.NewFromInt(quantity))

		ts := e.stamp()
		rec = e.newRecord(model.TransactionSell, uid, ts)
		rec.Ticker = ticker
		rec.Quantity = quantity
		rec.Price = stock.Price
		rec.TotalPrice = proceeds
		rec.BalanceChange = proceeds

		return e.inTx(ctx, conn, "sell_stock", func(tx store.Tx) error {
			if err := tx.InsertStockHolding(ctx, &model.StockHolding{
				UID: uid, Ticker: ticker, Quantity: held - quantity, Timestamp: ts,
			}); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, uid, model.AccountPatch{
				Balance: ptr(acct.Balance.Add(proceeds)),
			}); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, rec)
		})
	})
	if err != nil {
		return nil, err
	}

	e.committed(rec)
	e.log.Info("stock sold",
		"tx_id", rec.ID,
		"uid", uid,
		"ticker", ticker,
		"qty", quantity,
		"price", rec.Price.String(),
		"proceeds", rec.TotalPrice.String(),
	)
	return rec, nil
}

package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// WireToUser moves amount from one user to another. The sender must cover
// the amount from balance and keep at least MinHeldWire of net worth.
func (e *Engine) WireToUser(ctx context.Context, from, to string, amount decimal.Decimal, memo string) (*model.Transaction, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, ledgererr.InvalidInput("cannot wire to yourself")
	}

	var rec *model.Transaction
	err := e.withConn(ctx, "wire_to_user", func(conn store.Conn) error {
		sender, err := requireAccount(ctx, conn, from)
		if err != nil {
			return err
		}
		recipient, err := requireAccount(ctx, conn, to)
		if err != nil {
			return err
		}
		if err := e.checkOutgoing(ctx, conn, sender, amount); err != nil {
			return err
		}

		rec = e.newRecord(model.TransactionWire, from, e.stamp())
		rec.BalanceChange = amount.Neg()
		rec.Destination = to
		rec.IsDestinationUser = true
		rec.Memo = memo

		return e.inTx(ctx, conn, "wire_to_user", func(tx store.Tx) error {
			if err := tx.UpdateAccount(ctx, from, model.AccountPatch{
				Balance: ptr(sender.Balance.Sub(amount)),
			}); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, to, model.AccountPatch{
				Balance: ptr(recipient.Balance.Add(amount)),
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
	e.log.Info("wire sent",
		"tx_id", rec.ID,
		"uid", from,
		"to", to,
		"amount", amount.String(),
	)
	return rec, nil
}

// WireToEntity pays amount from a user to a fixed, non-user destination.
// Only the balance precondition applies.
func (e *Engine) WireToEntity(ctx context.Context, from, destination string, amount decimal.Decimal, memo string) (*model.Transaction, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(destination) == "" {
		return nil, ledgererr.InvalidInput("destination is required")
	}

	var rec *model.Transaction
	err := e.withConn(ctx, "wire_to_entity", func(conn store.Conn) error {
		sender, err := requireAccount(ctx, conn, from)
		if err != nil {
			return err
		}
		if sender.Balance.LessThan(amount) {
			return limitRejected(ledgererr.InsufficientBalance(from, sender.Balance, amount))
		}

		rec = e.newRecord(model.TransactionWire, from, e.stamp())
		rec.BalanceChange = amount.Neg()
		rec.Destination = destination
		rec.Memo = memo

		return e.inTx(ctx, conn, "wire_to_entity", func(tx store.Tx) error {
			if err := tx.UpdateAccount(ctx, from, model.AccountPatch{
				Balance: ptr(sender.Balance.Sub(amount)),
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
	e.log.Info("entity wire sent",
		"tx_id", rec.ID,
		"uid", from,
		"destination", destination,
		"amount", amount.String(),
	)
	return rec, nil
}

package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// ReplaceItemWithNew converts one unit of oldItemID into one unit of
// newItemID. No transaction record is written. Replacing an item with
// itself is validated and then does nothing.
func (e *Engine) ReplaceItemWithNew(ctx context.Context, uid, oldItemID, newItemID string) error {
	return e.withConn(ctx, "replace_item", func(conn store.Conn) error {
		if _, err := requireAccount(ctx, conn, uid); err != nil {
			return err
		}
		old, err := heldItems(ctx, conn, uid, oldItemID)
		if err != nil {
			return err
		}
		if old.Quantity < 1 {
			return ledgererr.InsufficientItemQuantity(uid, oldItemID, old.Quantity, 1)
		}
		item, err := conn.GetItem(ctx, newItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ledgererr.ItemNotFound(newItemID)
		}
		if oldItemID == newItemID {
			return nil
		}
		existing, err := conn.GetItemHolding(ctx, uid, newItemID)
		if err != nil {
			return err
		}

		err = e.inTx(ctx, conn, "replace_item", func(tx store.Tx) error {
			var newQty int64
			if existing == nil {
				if err := tx.InsertItemHolding(ctx, &model.ItemHolding{UID: uid, ItemID: newItemID}); err != nil {
					return err
				}
			} else {
				newQty = existing.Quantity
			}
			if err := tx.UpdateItemHolding(ctx, uid, oldItemID, model.ItemHoldingPatch{
				Quantity: ptr(old.Quantity - 1),
			}); err != nil {
				return err
			}
			return tx.UpdateItemHolding(ctx, uid, newItemID, model.ItemHoldingPatch{
				Quantity: ptr(newQty + 1),
			})
		})
		if err != nil {
			return err
		}

		e.log.Info("item replaced", "uid", uid, "old", oldItemID, "new", newItemID)
		return nil
	})
}

// CashItem redeems one unit of itemID for itemValue. No transaction record
// is written.
func (e *Engine) CashItem(ctx context.Context, uid, itemID string, itemValue decimal.Decimal) error {
	if itemValue.IsNegative() {
		return ledgererr.InvalidInput("item value must not be negative, got " + itemValue.String())
	}

	return e.withConn(ctx, "cash_item", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		held, err := heldItems(ctx, conn, uid, itemID)
		if err != nil {
			return err
		}
		if held.Quantity < 1 {
			return ledgererr.InsufficientItemQuantity(uid, itemID, held.Quantity, 1)
		}

		err = e.inTx(ctx, conn, "cash_item", func(tx store.Tx) error {
			if err := tx.UpdateItemHolding(ctx, uid, itemID, model.ItemHoldingPatch{
				Quantity: ptr(held.Quantity - 1),
			}); err != nil {
				return err
			}
			return tx.UpdateAccount(ctx, uid, model.AccountPatch{
				Balance: ptr(acct.Balance.Add(itemValue)),
			})
		})
		if err != nil {
			return err
		}

		e.log.Info("item cashed", "uid", uid, "item", itemID, "value", itemValue.String())
		return nil
	})
}

package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/levels"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/store"
)

// ContributeBounty adds amount to the bounty on levelID, creating the
// request on first contribution. The contributor earns cashback at the
// best rate among the credit cards they hold.
func (e *Engine) ContributeBounty(ctx context.Context, uid, levelID string, amount decimal.Decimal) (*model.Transaction, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(levelID) == "" {
		return nil, ledgererr.InvalidInput("level id is required")
	}

	var rec *model.Transaction
	var cashback decimal.Decimal
	err := e.withConn(ctx, "contribute_bounty", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		if err := e.checkOutgoing(ctx, conn, acct, amount); err != nil {
			return err
		}
		cards, err := heldCards(ctx, conn, uid)
		if err != nil {
			return err
		}
		cashback = e.policy.CashbackFor(amount, cards)

		req, err := conn.GetRequest(ctx, levelID)
		if err != nil {
			return err
		}
		var lvl *levels.Level
		if req == nil && e.levels != nil {
			if lvl, err = e.levels.Lookup(ctx, levelID); err != nil {
				return fmt.Errorf("lookup level %s: %w", levelID, err)
			}
		}

		rec = e.newRecord(model.TransactionRequestAdd, uid, e.stamp())
		rec.BalanceChange = cashback.Sub(amount)
		rec.Price = amount
		rec.Destination = levelID

		return e.inTx(ctx, conn, "contribute_bounty", func(tx store.Tx) error {
			bounty := decimal.Zero
			if req == nil {
				created := &model.Request{LevelID: levelID, RequesterUID: uid}
				if lvl != nil {
					created.Name = lvl.Name
					created.Creator = lvl.Creator
				}
				if err := tx.InsertRequest(ctx, created); err != nil {
					return err
				}
			} else {
				bounty = req.Bounty
			}
			if err := tx.UpdateRequest(ctx, levelID, model.RequestPatch{
				Bounty: ptr(bounty.Add(amount)),
			}); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, uid, model.AccountPatch{
				Balance: ptr(acct.Balance.Add(rec.BalanceChange)),
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
	e.log.Info("bounty contributed",
		"tx_id", rec.ID,
		"uid", uid,
		"level", levelID,
		"amount", amount.String(),
		"cashback", cashback.String(),
	)
	return rec, nil
}

// AcceptBounty pays the moderator commission on levelID's bounty and
// resets the pool to zero. The record's price is the bounty before reset.
func (e *Engine) AcceptBounty(ctx context.Context, uid, levelID string) (*model.Transaction, error) {
	var rec *model.Transaction
	err := e.withConn(ctx, "accept_bounty", func(conn store.Conn) error {
		acct, err := requireAccount(ctx, conn, uid)
		if err != nil {
			return err
		}
		req, err := conn.GetRequest(ctx, levelID)
		if err != nil {
			return err
		}
		if req == nil || !req.Bounty.IsPositive() {
			return ledgererr.RequestNotFound(levelID)
		}

		commission := e.policy.Commission(req.Bounty)

		rec = e.newRecord(model.TransactionRequestAdd, uid, e.stamp())
		rec.BalanceChange = commission
		rec.Price = req.Bounty
		rec.Destination = levelID

		return e.inTx(ctx, conn, "accept_bounty", func(tx store.Tx) error {
			if err := tx.UpdateRequest(ctx, levelID, model.RequestPatch{
				Bounty: ptr(decimal.Zero),
			}); err != nil {
				return err
			}
			if err := tx.UpdateAccount(ctx, uid, model.AccountPatch{
				Balance: ptr(acct.Balance.Add(commission)),
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
	e.log.Info("bounty accepted",
		"tx_id", rec.ID,
		"uid", uid,
		"level", levelID,
		"bounty", rec.Price.String(),
		"commission", rec.BalanceChange.String(),
	)
	return rec, nil
}

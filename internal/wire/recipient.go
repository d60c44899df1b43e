// Package wire implements the two-phase confirmation protocol wrapped
// around every wire: the sender sees a preview, then confirms, cancels or
// lets the prompt time out. Only a confirmation moves money.
package wire

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
)

// Ledger is the slice of the ledger engine a recipient needs.
type Ledger interface {
	Account(ctx context.Context, uid string) (*model.Account, error)
	WireToUser(ctx context.Context, from, to string, amount decimal.Decimal, memo string) (*model.Transaction, error)
	WireToEntity(ctx context.Context, from, destination string, amount decimal.Decimal, memo string) (*model.Transaction, error)
}

// Preview is what the sender sees before confirming.
type Preview struct {
	Destination  string          `json:"destination"`
	Identifier   string          `json:"identifier"`
	IsUser       bool            `json:"is_user"`
	Balance      decimal.Decimal `json:"balance"`
	Amount       decimal.Decimal `json:"amount"`
	FinalBalance decimal.Decimal `json:"final_balance"`
	Memo         string          `json:"memo,omitempty"`
}

// Result describes an executed wire.
type Result struct {
	From        string
	Amount      decimal.Decimal
	Memo        string
	Transaction *model.Transaction
}

// Wireable is anything that can receive a wire.
type Wireable interface {
	Name() string
	Identifier() string
	Preview(ctx context.Context, from string, amount decimal.Decimal, memo string) (*Preview, error)
	Execute(ctx context.Context, from string, amount decimal.Decimal, memo string) (*model.Transaction, error)
	OnSuccess(ctx context.Context, res Result)
}

// AcceptFunc decides whether an entity takes a wire. Returning a
// ledgererr WireRejection aborts the wire with that reason.
type AcceptFunc func(ctx context.Context, from string, amount decimal.Decimal, memo string) error

// SuccessFunc runs after an entity wire commits.
type SuccessFunc func(ctx context.Context, res Result)

// Recipient is the Wireable for both users and entities.
type Recipient struct {
	ledger    Ledger
	id        string
	name      string
	isUser    bool
	accept    AcceptFunc
	onSuccess SuccessFunc
}

// UserRecipient wires to another user's account.
func UserRecipient(l Ledger, uid, name string) *Recipient {
	if name == "" {
		name = uid
	}
	return &Recipient{ledger: l, id: uid, name: name, isUser: true}
}

// EntityRecipient wires to a fixed destination. accept and onSuccess may be nil.
func EntityRecipient(l Ledger, id, name string, accept AcceptFunc, onSuccess SuccessFunc) *Recipient {
	return &Recipient{ledger: l, id: id, name: name, accept: accept, onSuccess: onSuccess}
}

func (r *Recipient) Name() string       { return r.name }
func (r *Recipient) Identifier() string { return r.id }
func (r *Recipient) IsUser() bool       { return r.isUser }

func (r *Recipient) Preview(ctx context.Context, from string, amount decimal.Decimal, memo string) (*Preview, error) {
	if !amount.IsPositive() {
		return nil, ledgererr.InvalidInput("amount must be positive, got " + amount.String())
	}
	if r.isUser && from == r.id {
		return nil, ledgererr.InvalidInput("cannot wire to yourself")
	}
	acct, err := r.ledger.Account(ctx, from)
	if err != nil {
		return nil, err
	}
	if r.isUser {
		if _, err := r.ledger.Account(ctx, r.id); err != nil {
			return nil, err
		}
	}
	return &Preview{
		Destination:  r.name,
		Identifier:   r.id,
		IsUser:       r.isUser,
		Balance:      acct.Balance,
		Amount:       amount,
		FinalBalance: acct.Balance.Sub(amount),
		Memo:         memo,
	}, nil
}

func (r *Recipient) Execute(ctx context.Context, from string, amount decimal.Decimal, memo string) (*model.Transaction, error) {
	if r.isUser {
		return r.ledger.WireToUser(ctx, from, r.id, amount, memo)
	}
	if r.accept != nil {
		if err := r.accept(ctx, from, amount, memo); err != nil {
			if le := ledgererr.As(err); le == nil && !errors.Is(err, context.Canceled) {
				return nil, ledgererr.WireRejection(r.name, err.Error())
			}
			return nil, err
		}
	}
	return r.ledger.WireToEntity(ctx, from, r.id, amount, memo)
}

func (r *Recipient) OnSuccess(ctx context.Context, res Result) {
	if r.onSuccess != nil {
		r.onSuccess(ctx, res)
	}
}

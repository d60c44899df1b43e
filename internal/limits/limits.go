// Package limits implements the balance, credit and net-worth rules that
// gate money movement, plus the cashback and commission math applied to
// bounty contributions and payouts.
//
// All functions are pure: callers read state, ask the Policy, and map the
// returned sentinel errors onto the ledger error taxonomy with payload.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when balance (plus credit, if the
	// caller allows drawing on it) cannot cover a cost.
	ErrInsufficientFunds = errors.New("limits: insufficient funds")

	// ErrNetWorthFloor is returned when an outgoing transfer would leave the
	// sender's net worth below the configured minimum.
	ErrNetWorthFloor = errors.New("limits: net worth floor breached")
)

// CashbackTable maps a credit-card item ID to the cashback rate earned
// while the user holds at least one of that card.
type CashbackTable map[string]decimal.Decimal

// DefaultCashback is the card tier table used when none is configured.
func DefaultCashback() CashbackTable {
	return CashbackTable{
		"010": decimal.RequireFromString("0.01"),
		"020": decimal.RequireFromString("0.02"),
		"030": decimal.RequireFromString("0.03"),
		"040": decimal.RequireFromString("0.04"),
		"050": decimal.RequireFromString("0.05"),
		"060": decimal.RequireFromString("0.10"),
	}
}

// Policy holds the economy's tunable limits.
type Policy struct {
	// MinHeldWire is the net worth a sender must retain after a user wire
	// or a bounty contribution.
	MinHeldWire decimal.Decimal

	// ModCommission is the fraction of a bounty paid to the accepting
	// moderator.
	ModCommission decimal.Decimal

	// Cashback is the per-item rate table for bounty contributions.
	Cashback CashbackTable
}

// NewPolicy creates a policy. A nil cashback table means no cashback.
func NewPolicy(minHeldWire, modCommission decimal.Decimal, cashback CashbackTable) *Policy {
	if cashback == nil {
		cashback = CashbackTable{}
	}
	return &Policy{
		MinHeldWire:   minHeldWire,
		ModCommission: modCommission,
		Cashback:      cashback,
	}
}

// PlanPurchase decides how a cost is paid. It returns the amount drawn on
// credit (zero when the balance covers the cost).
//
// Credit is only drawn when allowed and when balance + available credit
// covers the whole cost; partial fills are never made.
func (p *Policy) PlanPurchase(acct model.Account, cost decimal.Decimal, useCredit bool) (decimal.Decimal, error) {
	if acct.Balance.GreaterThanOrEqual(cost) {
		return decimal.Zero, nil
	}
	if !useCredit {
		return decimal.Zero, ErrInsufficientFunds
	}
	if acct.Balance.Add(acct.AvailableCredit()).LessThan(cost) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return cost.Sub(acct.Balance), nil
}

// CheckNetWorth validates that netWorth - amount stays at or above the floor.
func (p *Policy) CheckNetWorth(netWorth, amount decimal.Decimal) error {
	if netWorth.Sub(amount).LessThan(p.MinHeldWire) {
		return ErrNetWorthFloor
	}
	return nil
}

// CashbackRate returns the highest rate among cards the user holds at
// least one of. cards must already be filtered to credit-card items; ids
// absent from the table earn nothing.
func (p *Policy) CashbackRate(cards []model.ItemHolding) decimal.Decimal {
	rate := decimal.Zero
	for _, h := range cards {
		if h.Quantity < 1 {
			continue
		}
		if r, ok := p.Cashback[h.ItemID]; ok && r.GreaterThan(rate) {
			rate = r
		}
	}
	return rate
}

// CashbackFor is floor(amount × rate) in whole currency units.
func (p *Policy) CashbackFor(amount decimal.Decimal, cards []model.ItemHolding) decimal.Decimal {
	return amount.Mul(p.CashbackRate(cards)).Floor()
}

// Commission is ceil(bounty × ModCommission) in whole currency units.
func (p *Policy) Commission(bounty decimal.Decimal) decimal.Decimal {
	return bounty.Mul(p.ModCommission).Ceil()
}

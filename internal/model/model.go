// Package model defines the core domain types shared across the economy engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's cash and credit position. Accounts are created
// elsewhere; the ledger only mutates them.
type Account struct {
	UID         string          `json:"uid" db:"uid"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	LoanBalance decimal.Decimal `json:"loan_balance" db:"loan_balance"` // drawn against credit
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`
}

// AvailableCredit is max(credit_limit - loan_balance, 0).
func (a *Account) AvailableCredit() decimal.Decimal {
	return decimal.Max(a.CreditLimit.Sub(a.LoanBalance), decimal.Zero)
}

// NetWorth is balance + portfolio value - outstanding credit draw.
func (a *Account) NetWorth(portfolioValue decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(portfolioValue).Sub(a.LoanBalance)
}

// AccountPatch is a partial update. Nil fields are left untouched.
type AccountPatch struct {
	Balance     *decimal.Decimal
	LoanBalance *decimal.Decimal
	CreditLimit *decimal.Decimal
}

// IsEmpty reports whether the patch sets no field.
func (p AccountPatch) IsEmpty() bool {
	return p.Balance == nil && p.LoanBalance == nil && p.CreditLimit == nil
}

// Stock is a tradable ticker. Prices are set outside the ledger, as is
// PreviousClose, which stays invalid until the first close is recorded.
type Stock struct {
	Ticker        string              `json:"ticker" db:"ticker"`
	Price         decimal.Decimal     `json:"price" db:"price"`
	PreviousClose decimal.NullDecimal `json:"previous_close" db:"previous_close"`
}

// StockHolding is an immutable snapshot of the absolute quantity a user
// held after a change. The snapshot with the latest timestamp is current.
type StockHolding struct {
	UID       string    `json:"uid" db:"uid"`
	Ticker    string    `json:"ticker" db:"ticker"`
	Quantity  int64     `json:"quantity" db:"quantity"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// ValuedHolding is a current holding priced at the stock's current price.
type ValuedHolding struct {
	StockHolding
	Price         decimal.Decimal     `json:"price"`
	Value         decimal.Decimal     `json:"value"` // price * quantity
	PreviousClose decimal.NullDecimal `json:"previous_close"`
}

// Item is a catalog entry. Items with Type ItemTypeCreditCard can earn
// cashback on bounty contributions.
type Item struct {
	ItemID string `json:"item_id" db:"item_id"`
	Name   string `json:"name" db:"name"`
	Type   string `json:"type" db:"type"`
	Rarity string `json:"rarity,omitempty" db:"rarity"`
}

// Item types used by the engine.
const (
	ItemTypeCreditCard  = "credit_card"
	ItemTypeBoosterPack = "booster_pack"
)

// ItemHolding is a mutable counter, updated in place.
type ItemHolding struct {
	UID      string `json:"uid" db:"uid"`
	ItemID   string `json:"item_id" db:"item_id"`
	Quantity int64  `json:"quantity" db:"quantity"`
}

// ItemHoldingPatch is a partial update of an item holding.
type ItemHoldingPatch struct {
	Quantity *int64
}

func (p ItemHoldingPatch) IsEmpty() bool { return p.Quantity == nil }

// Request is a bounty pool attached to an external level.
type Request struct {
	LevelID      string          `json:"level_id" db:"level_id"`
	Bounty       decimal.Decimal `json:"bounty" db:"bounty"`
	Name         string          `json:"name,omitempty" db:"name"`
	Creator      string          `json:"creator,omitempty" db:"creator"`
	RequesterUID string          `json:"requester_uid,omitempty" db:"requester_uid"`
}

// RequestPatch is a partial update of a request.
type RequestPatch struct {
	Bounty       *decimal.Decimal `json:"bounty,omitempty"`
	Name         *string          `json:"name,omitempty"`
	Creator      *string          `json:"creator,omitempty"`
	RequesterUID *string          `json:"requester_uid,omitempty"`
}

func (p RequestPatch) IsEmpty() bool {
	return p.Bounty == nil && p.Name == nil && p.Creator == nil && p.RequesterUID == nil
}

// Apply returns r with the patch applied.
func (p RequestPatch) Apply(r Request) Request {
	if p.Bounty != nil {
		r.Bounty = *p.Bounty
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Creator != nil {
		r.Creator = *p.Creator
	}
	if p.RequesterUID != nil {
		r.RequesterUID = *p.RequesterUID
	}
	return r
}

// TransactionType tags a transaction record.
type TransactionType string

const (
	TransactionBuy        TransactionType = "buy"
	TransactionSell       TransactionType = "sell"
	TransactionWire       TransactionType = "wire"
	TransactionRequestAdd TransactionType = "request_add"
)

// Transaction is an immutable audit record. Exactly one is appended per
// successful money-moving operation; they are never updated or deleted.
// Schema: {id, type, uid, balance_change, timestamp, <variant fields>}
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	Type          TransactionType `json:"type" db:"type"`
	UID           string          `json:"uid" db:"uid"`
	BalanceChange decimal.Decimal `json:"balance_change" db:"balance_change"` // net change to uid's balance
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`

	// buy / sell
	Ticker       string          `json:"ticker,omitempty" db:"ticker"`
	Quantity     int64           `json:"quantity,omitempty" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"` // per share, or bounty amount for request_add
	TotalPrice   decimal.Decimal `json:"total_price" db:"total_price"`
	CreditChange decimal.Decimal `json:"credit_change" db:"credit_change"`

	// wire / request_add
	Destination       string `json:"destination,omitempty" db:"destination"`
	IsDestinationUser bool   `json:"is_destination_user,omitempty" db:"is_destination_user"`
	Memo              string `json:"memo,omitempty" db:"memo"`
}

// Portfolio is a read model combining an account with its holdings.
type Portfolio struct {
	Account         Account         `json:"account"`
	Holdings        []ValuedHolding `json:"holdings"`
	Inventory       []ItemHolding   `json:"inventory"`
	PortfolioValue  decimal.Decimal `json:"portfolio_value"`
	NetWorth        decimal.Decimal `json:"net_worth"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	DayChange       DayChange       `json:"day_change"`
}

// DayChange is the portfolio's move against the previous close. A holding
// whose stock has no previous close counts in full toward Diff and adds
// nothing to the baseline. Percent is a fraction, null without a baseline.
type DayChange struct {
	Diff    decimal.Decimal     `json:"diff"`
	Percent decimal.NullDecimal `json:"percent"`
}

// Package ledgererr defines the typed failure conditions shared by every
// ledger engine operation. Callers switch on Kind instead of matching strings.
package ledgererr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind identifies a failure condition.
type Kind string

const (
	KindUserNotFound              Kind = "USER_NOT_FOUND"
	KindStockNotFound             Kind = "STOCK_NOT_FOUND"
	KindItemNotFound              Kind = "ITEM_NOT_FOUND"
	KindRequestNotFound           Kind = "REQUEST_NOT_FOUND"
	KindInsufficientBalance       Kind = "INSUFFICIENT_BALANCE"
	KindInsufficientStockQuantity Kind = "INSUFFICIENT_STOCK_QUANTITY"
	KindInsufficientItemQuantity  Kind = "INSUFFICIENT_ITEM_QUANTITY"
	KindInsufficientNetWorth      Kind = "INSUFFICIENT_NET_WORTH"
	KindWireRejection             Kind = "WIRE_REJECTION"
	KindInvalidInput              Kind = "INVALID_INPUT"
)

// Kinds lists every kind in the taxonomy.
var Kinds = []Kind{
	KindUserNotFound,
	KindStockNotFound,
	KindItemNotFound,
	KindRequestNotFound,
	KindInsufficientBalance,
	KindInsufficientStockQuantity,
	KindInsufficientItemQuantity,
	KindInsufficientNetWorth,
	KindWireRejection,
	KindInvalidInput,
}

// IsValid reports whether k is part of the taxonomy.
func (k Kind) IsValid() bool {
	for _, candidate := range Kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// Metadata describes how a kind surfaces on the transport.
type Metadata struct {
	HTTPStatus int
	Message    string
}

var metadataByKind = map[Kind]Metadata{
	KindUserNotFound:              {HTTPStatus: http.StatusNotFound, Message: "user not found"},
	KindStockNotFound:             {HTTPStatus: http.StatusNotFound, Message: "stock not found"},
	KindItemNotFound:              {HTTPStatus: http.StatusNotFound, Message: "item not found"},
	KindRequestNotFound:           {HTTPStatus: http.StatusNotFound, Message: "request not found"},
	KindInsufficientBalance:       {HTTPStatus: http.StatusConflict, Message: "insufficient balance"},
	KindInsufficientStockQuantity: {HTTPStatus: http.StatusConflict, Message: "insufficient stock quantity"},
	KindInsufficientItemQuantity:  {HTTPStatus: http.StatusConflict, Message: "insufficient item quantity"},
	KindInsufficientNetWorth:      {HTTPStatus: http.StatusConflict, Message: "insufficient net worth"},
	KindWireRejection:             {HTTPStatus: http.StatusUnprocessableEntity, Message: "wire rejected by recipient"},
	KindInvalidInput:              {HTTPStatus: http.StatusBadRequest, Message: "invalid input"},
}

// MetadataFor returns the transport metadata for k.
func MetadataFor(k Kind) Metadata {
	if meta, ok := metadataByKind[k]; ok {
		return meta
	}
	return Metadata{HTTPStatus: http.StatusInternalServerError, Message: "internal error"}
}

// Error is a ledger failure. The payload fields carry only what is needed
// to render a precise message; unused fields stay zero.
type Error struct {
	Kind   Kind
	UID    string
	Entity string
	Have   decimal.Decimal
	Need   decimal.Decimal
	Reason string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindUserNotFound:
		return fmt.Sprintf("ledger: user %s not found", e.UID)
	case KindStockNotFound:
		return fmt.Sprintf("ledger: stock %s not found", e.Entity)
	case KindItemNotFound:
		return fmt.Sprintf("ledger: item %s not found", e.Entity)
	case KindRequestNotFound:
		return fmt.Sprintf("ledger: request for level %s not found", e.Entity)
	case KindInsufficientBalance:
		return fmt.Sprintf("ledger: user %s has balance %s, needs %s", e.UID, e.Have, e.Need)
	case KindInsufficientStockQuantity:
		return fmt.Sprintf("ledger: user %s holds %s of %s, requested %s", e.UID, e.Have, e.Entity, e.Need)
	case KindInsufficientItemQuantity:
		return fmt.Sprintf("ledger: user %s holds %s of item %s, requested %s", e.UID, e.Have, e.Entity, e.Need)
	case KindInsufficientNetWorth:
		return fmt.Sprintf("ledger: user %s net worth %s cannot cover %s", e.UID, e.Have, e.Need)
	case KindWireRejection:
		return fmt.Sprintf("ledger: wire rejected by %s: %s", e.Entity, e.Reason)
	default:
		return fmt.Sprintf("ledger: %s: %s", e.Kind, e.Reason)
	}
}

// Is matches another *Error of the same kind, so errors.Is works against
// the sentinel-like values built by the constructors below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// As extracts the ledger error from err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// KindOf returns the kind of err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	if typed := As(err); typed != nil {
		return typed.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func UserNotFound(uid string) *Error {
	return &Error{Kind: KindUserNotFound, UID: uid}
}

func StockNotFound(ticker string) *Error {
	return &Error{Kind: KindStockNotFound, Entity: ticker}
}

func ItemNotFound(itemID string) *Error {
	return &Error{Kind: KindItemNotFound, Entity: itemID}
}

func RequestNotFound(levelID string) *Error {
	return &Error{Kind: KindRequestNotFound, Entity: levelID}
}

func InsufficientBalance(uid string, have, need decimal.Decimal) *Error {
	return &Error{Kind: KindInsufficientBalance, UID: uid, Have: have, Need: need}
}

func InsufficientStockQuantity(uid, ticker string, have, requested int64) *Error {
	return &Error{
		Kind:   KindInsufficientStockQuantity,
		UID:    uid,
		Entity: ticker,
		Have:   decimal.NewFromInt(have),
		Need:   decimal.NewFromInt(requested),
	}
}

func InsufficientItemQuantity(uid, itemID string, have, requested int64) *Error {
	return &Error{
		Kind:   KindInsufficientItemQuantity,
		UID:    uid,
		Entity: itemID,
		Have:   decimal.NewFromInt(have),
		Need:   decimal.NewFromInt(requested),
	}
}

// InsufficientNetWorth reports that spending amount would drop netWorth
// below floor. Reason carries the floor for rendering.
func InsufficientNetWorth(uid string, netWorth, amount, floor decimal.Decimal) *Error {
	return &Error{
		Kind:   KindInsufficientNetWorth,
		UID:    uid,
		Have:   netWorth,
		Need:   amount,
		Reason: "minimum held " + floor.String(),
	}
}

// WireRejection is raised by a recipient's acceptance hook.
func WireRejection(recipient, reason string) *Error {
	return &Error{Kind: KindWireRejection, Entity: recipient, Reason: reason}
}

func InvalidInput(reason string) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason}
}

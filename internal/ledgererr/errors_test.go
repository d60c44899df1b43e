package ledgererr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAs_UnwrapsChain(t *testing.T) {
	base := InsufficientBalance("u1", decimal.NewFromInt(100), decimal.NewFromInt(120))
	wrapped := fmt.Errorf("buy stock: %w", base)

	got := As(wrapped)
	if got == nil {
		t.Fatal("expected ledger error in chain")
	}
	if got.Kind != KindInsufficientBalance {
		t.Errorf("expected %s, got %s", KindInsufficientBalance, got.Kind)
	}
	if !got.Have.Equal(decimal.NewFromInt(100)) || !got.Need.Equal(decimal.NewFromInt(120)) {
		t.Errorf("unexpected payload have=%s need=%s", got.Have, got.Need)
	}
}

func TestAs_ForeignError(t *testing.T) {
	if As(errors.New("connection reset")) != nil {
		t.Error("foreign errors must not be reported as ledger errors")
	}
	if KindOf(nil) != "" {
		t.Error("nil error has no kind")
	}
}

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("sell: %w", InsufficientStockQuantity("u1", "GD", 2, 3))
	if !errors.Is(err, &Error{Kind: KindInsufficientStockQuantity}) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, &Error{Kind: KindInsufficientBalance}) {
		t.Error("errors.Is must not match a different kind")
	}
}

func TestMetadataFor(t *testing.T) {
	for _, k := range Kinds {
		meta := MetadataFor(k)
		if meta.HTTPStatus == http.StatusInternalServerError {
			t.Errorf("kind %s has no metadata", k)
		}
		if meta.Message == "" {
			t.Errorf("kind %s has no message", k)
		}
	}
	if MetadataFor("BOGUS").HTTPStatus != http.StatusInternalServerError {
		t.Error("unknown kinds map to 500")
	}
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{UserNotFound("u9"), "ledger: user u9 not found"},
		{StockNotFound("GD"), "ledger: stock GD not found"},
		{RequestNotFound("lvl1"), "ledger: request for level lvl1 not found"},
		{InsufficientItemQuantity("u1", "900", 0, 1), "ledger: user u1 holds 0 of item 900, requested 1"},
		{WireRejection("Casino", "closed"), "ledger: wire rejected by Casino: closed"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestKind_IsValid(t *testing.T) {
	if !KindWireRejection.IsValid() {
		t.Error("wire rejection is part of the taxonomy")
	}
	if Kind("NOPE").IsValid() {
		t.Error("unknown kind reported valid")
	}
}

// Package api exposes the ledger and the wire protocol over HTTP and
// streams committed transactions to WebSocket clients.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledger"
	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/wire"
)

const (
	// DefaultPoolSize is the request pool page size when ?limit is absent.
	DefaultPoolSize = 10
	// DefaultShareholders is the shareholder list size when ?limit is absent.
	DefaultShareholders = 10
)

// Handler serves the /api/v1 routes.
type Handler struct {
	engine    *ledger.Engine
	wires     *wire.Manager
	directory *wire.Directory
	log       *slog.Logger
}

// NewHandler creates a handler. directory may be nil when no entities are
// configured.
func NewHandler(engine *ledger.Engine, wires *wire.Manager, directory *wire.Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if directory == nil {
		directory = wire.NewDirectory()
	}
	return &Handler{engine: engine, wires: wires, directory: directory, log: logger}
}

// --- Request bodies ---

type BuyRequest struct {
	UID       string `json:"uid" validate:"required"`
	Ticker    string `json:"ticker" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	UseCredit bool   `json:"use_credit"`
}

type SellRequest struct {
	UID      string `json:"uid" validate:"required"`
	Ticker   string `json:"ticker" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

type ReplaceItemRequest struct {
	UID       string `json:"uid" validate:"required"`
	OldItemID string `json:"old_item_id" validate:"required"`
	NewItemID string `json:"new_item_id" validate:"required"`
}

type CashItemRequest struct {
	UID    string          `json:"uid" validate:"required"`
	ItemID string          `json:"item_id" validate:"required"`
	Value  decimal.Decimal `json:"value" validate:"gte=0"`
}

type ContributeRequest struct {
	UID    string          `json:"uid" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type AcceptRequest struct {
	UID string `json:"uid" validate:"required"`
}

// --- Users ---

// GetPortfolio handles GET /api/v1/users/{uid}/portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Portfolio(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListTransactions handles GET /api/v1/users/{uid}/transactions?limit=N
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, ledger.DefaultTransactionLimit)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	txs, err := h.engine.Transactions(r.Context(), chi.URLParam(r, "uid"), limit)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetStockHistory handles GET /api/v1/users/{uid}/stocks/{ticker}/history
func (h *Handler) GetStockHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.engine.StockHistory(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// --- Stocks ---

// ListShareholders handles GET /api/v1/stocks/{ticker}/shareholders?limit=N
func (h *Handler) ListShareholders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, DefaultShareholders)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	holders, err := h.engine.TopShareholders(r.Context(), chi.URLParam(r, "ticker"), limit)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holders)
}

// --- Trades ---

// BuyStock handles POST /api/v1/trades/buy
func (h *Handler) BuyStock(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	tx, err := h.engine.BuyStock(r.Context(), req.UID, req.Ticker, req.Quantity, req.UseCredit)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// SellStock handles POST /api/v1/trades/sell
func (h *Handler) SellStock(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	tx, err := h.engine.SellStock(r.Context(), req.UID, req.Ticker, req.Quantity)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- Items ---

// ReplaceItem handles POST /api/v1/items/replace
func (h *Handler) ReplaceItem(w http.ResponseWriter, r *http.Request) {
	var req ReplaceItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if err := h.engine.ReplaceItemWithNew(r.Context(), req.UID, req.OldItemID, req.NewItemID); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CashItem handles POST /api/v1/items/cash
func (h *Handler) CashItem(w http.ResponseWriter, r *http.Request) {
	var req CashItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if err := h.engine.CashItem(r.Context(), req.UID, req.ItemID, req.Value); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Requests ---

// ListRequests handles GET /api/v1/requests?limit=N
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, DefaultPoolSize)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	reqs, err := h.engine.ViewRequestPool(r.Context(), limit)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// GetRequest handles GET /api/v1/requests/{levelID}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.GetRequest(r.Context(), chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// UpdateRequest handles PATCH /api/v1/requests/{levelID}
func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var patch model.RequestPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	req, err := h.engine.UpdateRequest(r.Context(), chi.URLParam(r, "levelID"), patch)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ContributeBounty handles POST /api/v1/requests/{levelID}/contribute
func (h *Handler) ContributeBounty(w http.ResponseWriter, r *http.Request) {
	var req ContributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	tx, err := h.engine.ContributeBounty(r.Context(), req.UID, chi.URLParam(r, "levelID"), req.Amount)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// AcceptBounty handles POST /api/v1/requests/{levelID}/accept
func (h *Handler) AcceptBounty(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	tx, err := h.engine.AcceptBounty(r.Context(), req.UID, chi.URLParam(r, "levelID"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ledgererr.InvalidInput("limit must be a positive integer, got " + strconv.Quote(raw))
	}
	return n, nil
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/ledgererr"
	"github.com/atmx/economy-engine/internal/model"
	"github.com/atmx/economy-engine/internal/wire"
)

type WireRequest struct {
	UID    string          `json:"uid" validate:"required"`
	To     string          `json:"to" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Memo   string          `json:"memo" validate:"max=280"`
}

type WireResponseRequest struct {
	UID string `json:"uid" validate:"required"`
}

// WireView is the transport form of a session.
type WireView struct {
	ID          string             `json:"id"`
	From        string             `json:"from"`
	State       wire.State         `json:"state"`
	Preview     *wire.Preview      `json:"preview,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Kind        string             `json:"kind,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

func viewOf(s *wire.Session) WireView {
	v := WireView{ID: s.ID, From: s.From, State: s.State(), Preview: s.Preview()}
	if exp := s.ExpiresAt(); !exp.IsZero() && !v.State.Terminal() {
		v.ExpiresAt = &exp
	}
	return v
}

func outcomeView(s *wire.Session, o wire.Outcome) WireView {
	v := WireView{
		ID:          s.ID,
		From:        s.From,
		State:       o.State,
		Preview:     s.Preview(),
		Transaction: o.Transaction,
		Reason:      o.Reason(),
	}
	if k := ledgererr.KindOf(o.Err); k != "" {
		v.Kind = string(k)
	}
	return v
}

// StartWire handles POST /api/v1/wires. The response carries the preview;
// nothing moves until the sender confirms.
func (h *Handler) StartWire(w http.ResponseWriter, r *http.Request) {
	var req WireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	target := h.directory.Resolve(h.engine, req.To)
	s, err := h.wires.Start(r.Context(), req.UID, target, req.Amount, req.Memo)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// GetWire handles GET /api/v1/wires/{id}
func (h *Handler) GetWire(w http.ResponseWriter, r *http.Request) {
	s, ok := h.wires.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(h.log, w, r, wire.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// ConfirmWire handles POST /api/v1/wires/{id}/confirm
func (h *Handler) ConfirmWire(w http.ResponseWriter, r *http.Request) {
	h.respondWire(w, r, wire.Confirm)
}

// CancelWire handles POST /api/v1/wires/{id}/cancel
func (h *Handler) CancelWire(w http.ResponseWriter, r *http.Request) {
	h.respondWire(w, r, wire.Cancel)
}

func (h *Handler) respondWire(w http.ResponseWriter, r *http.Request, resp wire.Response) {
	var req WireResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	s, ok := h.wires.Get(id)
	if !ok {
		writeError(h.log, w, r, wire.ErrSessionNotFound)
		return
	}
	o, err := h.wires.Respond(r.Context(), id, req.UID, resp)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeView(s, o))
}

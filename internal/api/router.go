package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/economy-engine/internal/metrics"
)

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter mounts health, metrics, the WebSocket feed and the /api/v1
// routes. hub and db may be nil.
func NewRouter(h *Handler, hub *Hub, db Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded", "service": "economy-engine", "error": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "economy-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/users/{uid}/portfolio", h.GetPortfolio)
		r.Get("/users/{uid}/transactions", h.ListTransactions)
		r.Get("/users/{uid}/stocks/{ticker}/history", h.GetStockHistory)

		r.Get("/stocks/{ticker}/shareholders", h.ListShareholders)

		r.Post("/trades/buy", h.BuyStock)
		r.Post("/trades/sell", h.SellStock)

		r.Post("/wires", h.StartWire)
		r.Get("/wires/{id}", h.GetWire)
		r.Post("/wires/{id}/confirm", h.ConfirmWire)
		r.Post("/wires/{id}/cancel", h.CancelWire)

		r.Post("/items/replace", h.ReplaceItem)
		r.Post("/items/cash", h.CashItem)

		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{levelID}", h.GetRequest)
		r.Patch("/requests/{levelID}", h.UpdateRequest)
		r.Post("/requests/{levelID}/contribute", h.ContributeBounty)
		r.Post("/requests/{levelID}/accept", h.AcceptBounty)
	})
	return r
}

// cors allows cross-origin requests from the frontend.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Package handler wires the gate engine, the auth components, and the token
// codec into the HTTP surface. All mutable state round-trips through signed
// cookies; no handler keeps cross-request memory.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pewstudio/accessgate/internal/auth"
	"github.com/pewstudio/accessgate/internal/gate"
	"github.com/pewstudio/accessgate/internal/model"
	"github.com/pewstudio/accessgate/internal/persist"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	config   model.GateConfig
	provider *gate.Provider
	persist  *persist.Client
	limiter  auth.Limiter
}

// New creates a new Handler.
func New(cfg model.GateConfig, provider *gate.Provider, persister *persist.Client) *Handler {
	return &Handler{
		config:   cfg,
		provider: provider,
		persist:  persister,
		limiter:  auth.NewLimiter(),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/session", h.handleSession)
	r.Route("/gate", func(gr chi.Router) {
		gr.Use(h.requireAuth)
		gr.Get("/meta", h.handleMeta)
		gr.Get("/schema", h.handleSchema)
		gr.Get("/state", h.handleState)
		gr.Post("/attempt", h.handleAttempt)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Package ops serves the read-only operational endpoints: liveness and
// a stats snapshot.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/cronmaster/internal/maintain"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes /healthz and /stats.
type Handler struct {
	db    Pinger
	maint *maintain.Maintainer
}

// New builds the ops handler.
func New(db Pinger, m *maintain.Maintainer) *Handler {
	return &Handler{db: db, maint: m}
}

// RegisterRoutes registers the ops routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /stats", h.handleStats)
}

// handleHealthz reports 200 only when the database answers a ping and
// the dispatcher loop is live.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		slog.Warn("healthz db ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unreachable"})
		return
	}
	if !h.maint.Health().Running {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dispatcher stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maint.Health())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

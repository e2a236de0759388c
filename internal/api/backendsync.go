package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/backendsync"
)

// Reconciler is the session to agent mapping as exposed over HTTP.
type Reconciler interface {
	BackfillFromRemote(ctx context.Context) (backendsync.BackfillReport, error)
	Snapshot() map[string]int64
	IsSynced() bool
}

// BackendSyncHandler exposes the session to agent mapping.
type BackendSyncHandler struct {
	*Handler
	rec Reconciler
}

// NewBackendSyncHandler creates a new backend sync handler.
func NewBackendSyncHandler(base *Handler, rec Reconciler) *BackendSyncHandler {
	return &BackendSyncHandler{Handler: base, rec: rec}
}

// RegisterRoutes registers backend sync routes.
func (h *BackendSyncHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/backend-sync", func(r chi.Router) {
		r.Post("/backfill", h.Backfill)
		r.Get("/agents", h.Agents)
	})
}

// Backfill creates local sessions for remote agents that have none.
func (h *BackendSyncHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	report, err := h.rec.BackfillFromRemote(r.Context())
	if err != nil {
		h.fail(w, r, err, "Backfill failed")
		return
	}
	JSON(w, http.StatusOK, report)
}

// Agents returns the current session to agent map.
func (h *BackendSyncHandler) Agents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"synced":   h.rec.IsSynced(),
		"mappings": h.rec.Snapshot(),
	})
}

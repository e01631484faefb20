package handlers

import (
	"net/http"
)

// StalenessReporter reports whether the catalog is being served from an old snapshot.
type StalenessReporter interface {
	Stale() bool
}

// HealthHandler responds with service health information.
type HealthHandler struct {
	Catalog StalenessReporter
}

// Handle implements GET /healthz. A stale catalog degrades but does not fail the check.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if h.Catalog != nil && h.Catalog.Stale() {
		payload["status"] = "degraded"
		payload["usingStaleCatalog"] = true
	}
	respondJSON(r.Context(), w, http.StatusOK, payload)
}

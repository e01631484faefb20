package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/silluthedon/delta/internal/entitlement"
	"github.com/silluthedon/delta/internal/search"
)

// CatalogHandler serves the gated catalog, search and single-video endpoints.
type CatalogHandler struct {
	Catalog CatalogView
}

type searchKeyRequest struct {
	Key string `json:"key" validate:"required,max=32"`
}

// Listing handles GET /api/v1/catalog.
func (h CatalogHandler) Listing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	respondJSON(ctx, w, http.StatusOK, h.Catalog.Listing(levelFrom(r)))
}

// Search handles GET /api/v1/catalog/search. The q and genre parameters update
// the workspace's search input only when present.
func (h CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := workspaceFrom(ctx).Search
	params := r.URL.Query()

	var view search.View
	if params.Has("q") {
		view = state.SetQuery(params.Get("q"))
	}
	if params.Has("genre") {
		view = state.SetGenre(strings.TrimSpace(params.Get("genre")))
	}
	if !params.Has("q") && !params.Has("genre") {
		view = state.View()
	}

	respondJSON(ctx, w, http.StatusOK, h.Catalog.Search(levelFrom(r), view))
}

// SearchKey handles POST /api/v1/catalog/search/keys.
func (h CatalogHandler) SearchKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchKeyRequest
	if errResp := decodeJSON(w, r, &req); errResp != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errResp)
		return
	}

	key, err := search.ParseKey(req.Key)
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	view := workspaceFrom(ctx).Search.Press(key)
	respondJSON(ctx, w, http.StatusOK, h.Catalog.Search(levelFrom(r), view))
}

// ClearSearch handles DELETE /api/v1/catalog/search.
func (h CatalogHandler) ClearSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := workspaceFrom(ctx).Search.Clear()
	respondJSON(ctx, w, http.StatusOK, h.Catalog.Search(levelFrom(r), view))
}

// Detail handles GET /api/v1/videos/{id}.
func (h CatalogHandler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	card, err := h.Catalog.Detail(ctx, levelFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, card)
}

// Playback handles GET /api/v1/videos/{id}/playback.
func (h CatalogHandler) Playback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	playback, err := h.Catalog.Playback(ctx, levelFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, playback)
}

func levelFrom(r *http.Request) entitlement.Level {
	snap, ok := sessionFrom(r.Context())
	if !ok {
		return entitlement.Locked
	}
	return snap.Entitlement
}

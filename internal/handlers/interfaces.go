package handlers

import (
	"context"
	"io"

	"github.com/silluthedon/delta/internal/entitlement"
	"github.com/silluthedon/delta/internal/gate"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/search"
	"github.com/silluthedon/delta/internal/workspace"
)

// Workspaces hands out per-browser workspaces.
type Workspaces interface {
	Get(ctx context.Context, clientID, token string) (*workspace.Workspace, bool, error)
	Keep(ws *workspace.Workspace) bool
	Release(ws *workspace.Workspace)
	Remove(id string)
	RefreshPrincipal(ctx context.Context, principalID string) int
}

// CatalogView is the gated path from catalog data to responses.
type CatalogView interface {
	PaymentURL() string
	Listing(level entitlement.Level) gate.Listing
	Search(level entitlement.Level, view search.View) gate.SearchResult
	Detail(ctx context.Context, level entitlement.Level, id string) (gate.Card, error)
	Playback(ctx context.Context, level entitlement.Level, id string) (gate.Playback, error)
}

// CatalogRefresher reloads the catalog snapshot after admin changes.
type CatalogRefresher interface {
	Refresh(ctx context.Context) error
}

// CacheInvalidator drops cached catalog listings.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// VideoStore captures the catalog writes admins perform.
type VideoStore interface {
	Create(ctx context.Context, video models.Video) error
	Delete(ctx context.Context, id string) error
}

// ProfileStore captures the profile writes admins perform.
type ProfileStore interface {
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) error
}

// AssetStorage persists uploaded media and returns the reference to store on the record.
type AssetStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

package repositories

import (
	"context"

	"github.com/silluthedon/delta/internal/models"
)

// ProfileRepository persists per-principal subscription profiles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) error
}

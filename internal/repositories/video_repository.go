package repositories

import (
	"context"

	"github.com/silluthedon/delta/internal/models"
)

// VideoRepository exposes data access for catalog videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	ListVideos(ctx context.Context) ([]models.Video, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	Delete(ctx context.Context, id string) error
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/models"
)

// ErrCatalogUnavailable indicates the catalog source could not be read.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Source lists every video known to the catalog collaborator.
type Source interface {
	ListVideos(ctx context.Context) ([]models.Video, error)
}

// Snapshot is an immutable view of the catalog. Callers must not modify Videos.
type Snapshot struct {
	Version   uint64
	Videos    []models.Video
	FetchedAt time.Time

	genres []string
}

// Genres returns the distinct non-empty genres in first-occurrence order.
func (s *Snapshot) Genres() []string {
	if s == nil {
		return nil
	}
	return s.genres
}

// Featured returns the newest video, or false for an empty snapshot.
func (s *Snapshot) Featured() (models.Video, bool) {
	if s == nil || len(s.Videos) == 0 {
		return models.Video{}, false
	}
	return s.Videos[0], true
}

// Store holds the most recent catalog snapshot. Refresh swaps the snapshot
// atomically so readers never observe a partially built one.
type Store struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	current atomic.Pointer[Snapshot]
	stale   atomic.Bool
}

// NewStore constructs an empty store backed by source.
func NewStore(source Source, logger *slog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		source:  source,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	s.current.Store(&Snapshot{})
	return s
}

// Snapshot returns the current snapshot. It is never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// GenreFacet returns the genres of the current snapshot.
func (s *Store) GenreFacet() []string {
	return s.Snapshot().Genres()
}

// Stale reports whether the last refresh failed and an older snapshot is being served.
func (s *Store) Stale() bool {
	return s.stale.Load()
}

// Refresh fetches all videos and replaces the snapshot. A fetch identical to the
// current snapshot keeps it, version included. On failure the previous
// snapshot is kept and ErrCatalogUnavailable is returned.
func (s *Store) Refresh(ctx context.Context) error {
	if s.source == nil {
		s.stale.Store(true)
		return ErrCatalogUnavailable
	}

	videos, err := s.source.ListVideos(ctx)
	if err != nil {
		s.stale.Store(true)
		s.metrics.CatalogRefreshed(false, 0)
		s.logger.Warn("catalog refresh failed, serving previous snapshot", "error", err, "version", s.Snapshot().Version)
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	for {
		prev := s.current.Load()
		next := buildSnapshot(prev.Version+1, videos, s.now().UTC())
		if prev.Version > 0 && sameVideos(prev.Videos, next.Videos) {
			s.stale.Store(false)
			s.metrics.CatalogRefreshed(true, len(prev.Videos))
			return nil
		}
		if s.current.CompareAndSwap(prev, next) {
			s.stale.Store(false)
			s.metrics.CatalogRefreshed(true, len(next.Videos))
			s.logger.Debug("catalog refreshed", "version", next.Version, "videos", len(next.Videos))
			return nil
		}
	}
}

// Run refreshes the catalog every interval until ctx is canceled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

func buildSnapshot(version uint64, videos []models.Video, fetchedAt time.Time) *Snapshot {
	ordered := make([]models.Video, 0, len(videos))
	seen := make(map[string]struct{}, len(videos))
	for _, v := range videos {
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		ordered = append(ordered, v)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	var genres []string
	seenGenre := make(map[string]struct{})
	for _, v := range ordered {
		if v.Genre == "" {
			continue
		}
		if _, ok := seenGenre[v.Genre]; ok {
			continue
		}
		seenGenre[v.Genre] = struct{}{}
		genres = append(genres, v.Genre)
	}

	return &Snapshot{
		Version:   version,
		Videos:    ordered,
		FetchedAt: fetchedAt,
		genres:    genres,
	}
}

func sameVideos(a, b []models.Video) bool {
	return slices.EqualFunc(a, b, func(x, y models.Video) bool {
		return x.ID == y.ID &&
			x.Title == y.Title &&
			x.Description == y.Description &&
			x.FileRef == y.FileRef &&
			x.ThumbnailRef == y.ThumbnailRef &&
			x.Genre == y.Genre &&
			x.OwnerID == y.OwnerID &&
			x.CreatedAt.Equal(y.CreatedAt) &&
			sameInt(x.DurationSeconds, y.DurationSeconds) &&
			sameInt(x.Year, y.Year)
	})
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

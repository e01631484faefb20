package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/silluthedon/delta/internal/catalog"
	"github.com/silluthedon/delta/internal/entitlement"
	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
	"github.com/silluthedon/delta/internal/search"
)

var (
	// ErrRecordNotFound indicates that no video exists with the requested id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrSubscriptionRequired indicates that the video exists but the caller is locked.
	ErrSubscriptionRequired = errors.New("subscription required")
	// ErrCatalogUnavailable indicates that the catalog backend could not be read.
	ErrCatalogUnavailable = catalog.ErrCatalogUnavailable
)

// SubscriptionRequiredError carries the reduced preview a locked caller may see.
type SubscriptionRequiredError struct {
	Preview    Card
	PaymentURL string
}

func (e *SubscriptionRequiredError) Error() string {
	return ErrSubscriptionRequired.Error()
}

func (e *SubscriptionRequiredError) Is(target error) bool {
	return target == ErrSubscriptionRequired
}

// Card is a video as handed to presentation. Locked cards carry only the id and
// thumbnail reference.
type Card struct {
	ID              string     `json:"id"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description,omitempty"`
	FileRef         string     `json:"fileRef,omitempty"`
	ThumbnailRef    string     `json:"thumbnailRef,omitempty"`
	DurationSeconds *int       `json:"durationSeconds,omitempty"`
	Genre           string     `json:"genre,omitempty"`
	Year            *int       `json:"year,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	Locked          bool       `json:"locked"`
}

// Reduce applies the entitlement rule to a single video.
func Reduce(level entitlement.Level, v models.Video) Card {
	if !level.IsFull() {
		return Card{ID: v.ID, ThumbnailRef: v.ThumbnailRef, Locked: true}
	}
	created := v.CreatedAt
	return Card{
		ID:              v.ID,
		Title:           v.Title,
		Description:     v.Description,
		FileRef:         v.FileRef,
		ThumbnailRef:    v.ThumbnailRef,
		DurationSeconds: v.DurationSeconds,
		Genre:           v.Genre,
		Year:            v.Year,
		CreatedAt:       &created,
	}
}

// ReduceAll applies Reduce to every video, preserving order.
func ReduceAll(level entitlement.Level, videos []models.Video) []Card {
	cards := make([]Card, 0, len(videos))
	for _, v := range videos {
		cards = append(cards, Reduce(level, v))
	}
	return cards
}

// CatalogReader exposes the current catalog snapshot.
type CatalogReader interface {
	Snapshot() *catalog.Snapshot
	Stale() bool
}

// VideoGetter fetches a single video from the catalog backend.
type VideoGetter interface {
	GetVideo(ctx context.Context, id string) (models.Video, error)
}

// Listing is the gated home/browse payload.
type Listing struct {
	Entitlement entitlement.Level `json:"entitlement"`
	Featured    *Card             `json:"featured,omitempty"`
	Videos      []Card            `json:"videos"`
	Genres      []string          `json:"genres"`
	Stale       bool              `json:"usingStaleCatalog"`
	PaymentURL  string            `json:"paymentUrl,omitempty"`
}

// SearchResult is the gated search payload.
type SearchResult struct {
	search.View
	Entitlement entitlement.Level `json:"entitlement"`
	Results     []Card            `json:"results"`
	Stale       bool              `json:"usingStaleCatalog"`
	PaymentURL  string            `json:"paymentUrl,omitempty"`
}

// Playback is the reference a full-access caller uses to stream a video.
type Playback struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	FileRef      string `json:"fileRef"`
	ThumbnailRef string `json:"thumbnailRef,omitempty"`
}

// Adapter is the single path catalog data takes to presentation.
type Adapter struct {
	catalog    CatalogReader
	videos     VideoGetter
	paymentURL string
	metrics    *metrics.Metrics
}

// NewAdapter wires the adapter to the catalog snapshot and the single-record backend.
func NewAdapter(cat CatalogReader, videos VideoGetter, paymentURL string, m *metrics.Metrics) *Adapter {
	return &Adapter{catalog: cat, videos: videos, paymentURL: paymentURL, metrics: m}
}

// PaymentURL returns the configured payment link.
func (a *Adapter) PaymentURL() string {
	return a.paymentURL
}

// Listing returns the gated catalog with the newest video featured.
func (a *Adapter) Listing(level entitlement.Level) Listing {
	snap := a.catalog.Snapshot()
	out := Listing{
		Entitlement: level,
		Videos:      ReduceAll(level, snap.Videos),
		Genres:      append([]string{}, snap.Genres()...),
		Stale:       a.catalog.Stale(),
	}
	if featured, ok := snap.Featured(); ok {
		card := Reduce(level, featured)
		out.Featured = &card
	}
	if !level.IsFull() {
		out.PaymentURL = a.paymentURL
	}
	return out
}

// Search gates a search view.
func (a *Adapter) Search(level entitlement.Level, view search.View) SearchResult {
	out := SearchResult{
		View:        view,
		Entitlement: level,
		Results:     ReduceAll(level, view.Results),
		Stale:       a.catalog.Stale(),
	}
	if !level.IsFull() {
		out.PaymentURL = a.paymentURL
	}
	return out
}

// Detail returns the gated detail card for id.
func (a *Adapter) Detail(ctx context.Context, level entitlement.Level, id string) (Card, error) {
	v, err := a.fetch(ctx, "detail", level, id)
	if err != nil {
		return Card{}, err
	}
	return Reduce(level, v), nil
}

// Playback returns the playback reference for id. Locked callers never receive FileRef.
func (a *Adapter) Playback(ctx context.Context, level entitlement.Level, id string) (Playback, error) {
	v, err := a.fetch(ctx, "playback", level, id)
	if err != nil {
		return Playback{}, err
	}
	return Playback{ID: v.ID, Title: v.Title, FileRef: v.FileRef, ThumbnailRef: v.ThumbnailRef}, nil
}

func (a *Adapter) fetch(ctx context.Context, view string, level entitlement.Level, id string) (models.Video, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		a.metrics.GateDecision(view, "not_found")
		return models.Video{}, ErrRecordNotFound
	}

	v, err := a.videos.GetVideo(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		a.metrics.GateDecision(view, "not_found")
		return models.Video{}, ErrRecordNotFound
	case err != nil:
		a.metrics.GateDecision(view, "unavailable")
		return models.Video{}, fmt.Errorf("%w: get video %s: %v", ErrCatalogUnavailable, id, err)
	}

	if !level.IsFull() {
		a.metrics.GateDecision(view, "subscription_required")
		return models.Video{}, &SubscriptionRequiredError{Preview: Reduce(level, v), PaymentURL: a.paymentURL}
	}

	a.metrics.GateDecision(view, "granted")
	return v, nil
}

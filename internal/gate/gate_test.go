package gate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silluthedon/delta/internal/catalog"
	"github.com/silluthedon/delta/internal/entitlement"
	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
	"github.com/silluthedon/delta/internal/search"
)

const paymentURL = "https://pay.example.com/delta"

type memVideos struct {
	byID map[string]models.Video
	err  error
}

func (m *memVideos) ListVideos(context.Context) ([]models.Video, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.Video, 0, len(m.byID))
	for _, v := range m.byID {
		out = append(out, v)
	}
	return out, nil
}

func (m *memVideos) GetVideo(_ context.Context, id string) (models.Video, error) {
	if m.err != nil {
		return models.Video{}, m.err
	}
	v, ok := m.byID[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return v, nil
}

func fullRecord(id string, created time.Time) models.Video {
	dur, year := 5400, 2016
	return models.Video{
		ID:              id,
		Title:           "Arrival " + id,
		Description:     "Linguist meets heptapods",
		FileRef:         "https://cdn.example.com/videos/" + id + ".mp4",
		ThumbnailRef:    "https://cdn.example.com/thumbnails/" + id + ".jpg",
		DurationSeconds: &dur,
		Genre:           "Sci-Fi",
		Year:            &year,
		CreatedAt:       created,
		OwnerID:         "admin",
	}
}

func newAdapter(t *testing.T) (*Adapter, *memVideos) {
	t.Helper()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	videos := &memVideos{byID: map[string]models.Video{
		"old": fullRecord("old", now.Add(-time.Hour)),
		"new": fullRecord("new", now),
	}}
	store := catalog.NewStore(videos, nil, nil)
	require.NoError(t, store.Refresh(context.Background()))
	return NewAdapter(store, videos, paymentURL, metrics.New()), videos
}

func TestReduceLockedExposesOnlyIDAndThumbnail(t *testing.T) {
	v := fullRecord("a", time.Now())
	card := Reduce(entitlement.Locked, v)

	assert.Equal(t, Card{ID: "a", ThumbnailRef: v.ThumbnailRef, Locked: true}, card)

	raw, err := json.Marshal(card)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, forbidden := range []string{"fileRef", "description", "genre", "year", "durationSeconds", "title"} {
		assert.NotContains(t, fields, forbidden)
	}
}

func TestReduceFullExposesEverything(t *testing.T) {
	v := fullRecord("a", time.Now())
	card := Reduce(entitlement.Full, v)

	assert.False(t, card.Locked)
	assert.Equal(t, v.FileRef, card.FileRef)
	assert.Equal(t, v.Description, card.Description)
	assert.Equal(t, v.Genre, card.Genre)
	assert.Equal(t, v.Year, card.Year)
	assert.Equal(t, v.DurationSeconds, card.DurationSeconds)
}

func TestListingGatesFeaturedAndCards(t *testing.T) {
	adapter, _ := newAdapter(t)

	locked := adapter.Listing(entitlement.Locked)
	require.NotNil(t, locked.Featured)
	assert.Equal(t, "new", locked.Featured.ID)
	assert.True(t, locked.Featured.Locked)
	require.Len(t, locked.Videos, 2)
	for _, c := range locked.Videos {
		assert.Empty(t, c.FileRef)
	}
	assert.Equal(t, paymentURL, locked.PaymentURL)
	assert.Equal(t, []string{"Sci-Fi"}, locked.Genres)

	full := adapter.Listing(entitlement.Full)
	assert.Empty(t, full.PaymentURL)
	assert.NotEmpty(t, full.Featured.FileRef)
	assert.False(t, full.Stale)
}

func TestListingReportsStaleCatalog(t *testing.T) {
	adapter, videos := newAdapter(t)
	videos.err = errors.New("db down")
	require.Error(t, adapter.catalog.(*catalog.Store).Refresh(context.Background()))

	listing := adapter.Listing(entitlement.Full)
	assert.True(t, listing.Stale)
	assert.Len(t, listing.Videos, 2)
}

func TestSearchGatesResults(t *testing.T) {
	adapter, _ := newAdapter(t)
	view := search.View{
		Query:       "arrival",
		Results:     []models.Video{fullRecord("x", time.Now())},
		Suggestions: []string{"Arrival x"},
		ActiveIndex: -1,
	}

	res := adapter.Search(entitlement.Locked, view)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Locked)
	assert.Empty(t, res.Results[0].FileRef)
	assert.Equal(t, []string{"Arrival x"}, res.Suggestions)
	assert.Equal(t, paymentURL, res.PaymentURL)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "cdn.example.com/videos")
}

func TestDetailLockedIsSubscriptionRequired(t *testing.T) {
	adapter, _ := newAdapter(t)

	_, err := adapter.Detail(context.Background(), entitlement.Evaluate(&models.Profile{SubscriptionStatus: models.SubscriptionInactive}), "old")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubscriptionRequired))
	assert.False(t, errors.Is(err, ErrRecordNotFound))

	var subErr *SubscriptionRequiredError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "old", subErr.Preview.ID)
	assert.Empty(t, subErr.Preview.FileRef)
	assert.Equal(t, paymentURL, subErr.PaymentURL)
}

func TestDetailMissingIsNotFound(t *testing.T) {
	adapter, _ := newAdapter(t)

	for _, level := range []entitlement.Level{entitlement.Locked, entitlement.Full} {
		_, err := adapter.Detail(context.Background(), level, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.NotErrorIs(t, err, ErrSubscriptionRequired)
	}

	_, err := adapter.Detail(context.Background(), entitlement.Full, "  ")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestDetailBackendFailureIsCatalogUnavailable(t *testing.T) {
	adapter, videos := newAdapter(t)
	videos.err = errors.New("timeout")

	_, err := adapter.Detail(context.Background(), entitlement.Full, "old")
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
}

func TestPlayback(t *testing.T) {
	adapter, _ := newAdapter(t)

	play, err := adapter.Playback(context.Background(), entitlement.Full, "new")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/videos/new.mp4", play.FileRef)

	_, err = adapter.Playback(context.Background(), entitlement.Locked, "new")
	assert.ErrorIs(t, err, ErrSubscriptionRequired)
}

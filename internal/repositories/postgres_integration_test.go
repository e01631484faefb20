package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/silluthedon/delta/internal/auth"
	"github.com/silluthedon/delta/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		// No cockroach binary available; the integration tests skip themselves.
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(m.Run())
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, repo, "viewer@example.com")

	byEmail, err := repo.FindByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.ID != user.ID || byEmail.Password != user.Password {
		t.Fatalf("unexpected user loaded by email: %+v", byEmail)
	}

	byID, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Email != user.Email {
		t.Fatalf("expected email %q, got %q", user.Email, byID.Email)
	}

	duplicate := user
	duplicate.ID = uuid.NewString()
	if err := repo.Create(ctx, duplicate); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	if _, err := repo.FindByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
}

func TestPostgresProfileRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresProfileRepository(testPool)
	id := uuid.NewString()

	if _, err := repo.GetProfile(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	created, err := repo.CreateProfile(ctx, models.Profile{ID: id, Email: "member@example.com"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if created.SubscriptionStatus != models.SubscriptionInactive || created.SubscriptionExpiresAt != nil {
		t.Fatalf("expected inactive profile without expiry, got %+v", created)
	}

	if _, err := repo.CreateProfile(ctx, models.Profile{ID: id, Email: "member@example.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second create, got %v", err)
	}

	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	update := models.ProfileUpdate{SubscriptionStatus: models.SubscriptionActive, SubscriptionExpiresAt: &expires}
	if err := repo.UpdateProfile(ctx, id, update); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	loaded, err := repo.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if loaded.SubscriptionStatus != models.SubscriptionActive {
		t.Fatalf("expected active status, got %q", loaded.SubscriptionStatus)
	}
	if loaded.SubscriptionExpiresAt == nil || !timesClose(*loaded.SubscriptionExpiresAt, expires, time.Millisecond) {
		t.Fatalf("unexpected expiry %v", loaded.SubscriptionExpiresAt)
	}

	if err := repo.UpdateProfile(ctx, uuid.NewString(), update); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating unknown profile, got %v", err)
	}

	if err := repo.UpdateProfile(ctx, id, models.ProfileUpdate{SubscriptionStatus: "paused"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestPostgresVideoRepository_CreateListGetDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresVideoRepository(testPool)
	base := time.Now().UTC().Truncate(time.Second)
	year := 2016
	duration := 6960

	older := models.Video{
		ID:              uuid.NewString(),
		Title:           "Arrival",
		Description:     "Linguist meets visitors.",
		FileRef:         "videos/arrival.mp4",
		ThumbnailRef:    "thumbnails/arrival.jpg",
		DurationSeconds: &duration,
		Genre:           "Sci-Fi",
		Year:            &year,
		CreatedAt:       base.Add(-time.Hour),
		OwnerID:         uuid.NewString(),
	}
	newer := models.Video{
		ID:        uuid.NewString(),
		Title:     "Paterson",
		FileRef:   "videos/paterson.mp4",
		CreatedAt: base,
		OwnerID:   older.OwnerID,
	}

	for _, v := range []models.Video{older, newer} {
		if err := repo.Create(ctx, v); err != nil {
			t.Fatalf("create video %s: %v", v.Title, err)
		}
	}
	if err := repo.Create(ctx, older); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate id, got %v", err)
	}

	listed, err := repo.ListVideos(ctx)
	if err != nil {
		t.Fatalf("list videos: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != newer.ID || listed[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", listed)
	}

	loaded, err := repo.GetVideo(ctx, older.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if loaded.Genre != "Sci-Fi" || loaded.Year == nil || *loaded.Year != year || loaded.DurationSeconds == nil || *loaded.DurationSeconds != duration {
		t.Fatalf("unexpected optional fields: %+v", loaded)
	}

	sparse, err := repo.GetVideo(ctx, newer.ID)
	if err != nil {
		t.Fatalf("get sparse video: %v", err)
	}
	if sparse.Description != "" || sparse.ThumbnailRef != "" || sparse.Year != nil || sparse.DurationSeconds != nil {
		t.Fatalf("expected absent optional fields, got %+v", sparse)
	}

	if err := repo.Delete(ctx, older.ID); err != nil {
		t.Fatalf("delete video: %v", err)
	}
	if _, err := repo.GetVideo(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestPostgresSessionStore_SaveFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, userRepo, "owner@example.com")

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	session := auth.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: expires,
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, session.Token)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}

	if loaded.UserID != session.UserID || !timesClose(loaded.ExpiresAt, expires, time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	updated := session
	updated.ExpiresAt = expires.Add(48 * time.Hour)
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("update session: %v", err)
	}

	loaded, err = store.Find(ctx, session.Token)
	if err != nil {
		t.Fatalf("find session after update: %v", err)
	}

	if !timesClose(loaded.ExpiresAt, updated.ExpiresAt, time.Millisecond) {
		t.Fatalf("expected updated expiry, got %v", loaded.ExpiresAt)
	}

	if err := store.Delete(ctx, session.Token); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	if _, err := store.Find(ctx, session.Token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}

	if err := store.Delete(ctx, session.Token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	if testPool == nil {
		t.Skip("cockroach test server unavailable")
	}
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE identity_sessions, user_profiles, videos, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, email string) models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  "password-hash",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}

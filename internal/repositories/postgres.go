package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/silluthedon/delta/internal/db"
	"github.com/silluthedon/delta/internal/models"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, user.ID, user.Email, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is always one of the fixed identifiers above.
	row := conn.QueryRow(ctx, `
        SELECT id, email, password_hash, created_at, updated_at
        FROM users
        WHERE `+column+` = $1
    `, value)

	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// PostgresProfileRepository provides PostgreSQL-backed persistence for subscription profiles.
type PostgresProfileRepository struct {
	pool db.Pool
}

// NewPostgresProfileRepository constructs a profile repository backed by PostgreSQL.
func NewPostgresProfileRepository(pool db.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

// GetProfile loads the profile for a principal id.
func (r *PostgresProfileRepository) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, email, subscription_status, subscription_expires_at, created_at
        FROM user_profiles
        WHERE id = $1
    `, id)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}
	return profile, nil
}

// CreateProfile inserts a profile and returns the stored row. A profile that
// already exists for the id yields ErrConflict.
func (r *PostgresProfileRepository) CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	status := profile.SubscriptionStatus
	if status == "" {
		status = models.SubscriptionInactive
	}
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := conn.QueryRow(ctx, `
        INSERT INTO user_profiles (id, email, subscription_status, subscription_expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, email, subscription_status, subscription_expires_at, created_at
    `, profile.ID, profile.Email, string(status), profile.SubscriptionExpiresAt, createdAt)

	stored, err := scanProfile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Profile{}, ErrConflict
		}
		return models.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return stored, nil
}

// UpdateProfile writes the subscription status and expiry for a profile.
func (r *PostgresProfileRepository) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) error {
	if !update.SubscriptionStatus.Valid() {
		return fmt.Errorf("invalid subscription status %q", update.SubscriptionStatus)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE user_profiles
        SET subscription_status = $2, subscription_expires_at = $3
        WHERE id = $1
    `, id, string(update.SubscriptionStatus), update.SubscriptionExpiresAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var (
		profile   models.Profile
		status    string
		expiresAt sql.NullTime
	)
	if err := row.Scan(&profile.ID, &profile.Email, &status, &expiresAt, &profile.CreatedAt); err != nil {
		return models.Profile{}, err
	}
	profile.SubscriptionStatus = models.SubscriptionStatus(status)
	profile.CreatedAt = profile.CreatedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		profile.SubscriptionExpiresAt = &t
	}
	return profile, nil
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for catalog videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new catalog video.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (id, title, description, file_url, thumbnail_url, duration_seconds, genre, year, created_at, admin_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, video.ID, video.Title, nullString(video.Description), video.FileRef, nullString(video.ThumbnailRef),
		video.DurationSeconds, nullString(video.Genre), video.Year, video.CreatedAt, video.OwnerID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert video: %w", err)
	}

	return nil
}

// ListVideos returns every video, newest first.
func (r *PostgresVideoRepository) ListVideos(ctx context.Context) ([]models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, title, description, file_url, thumbnail_url, duration_seconds, genre, year, created_at, admin_id
        FROM videos
        ORDER BY created_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

// GetVideo loads a single video by id.
func (r *PostgresVideoRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, title, description, file_url, thumbnail_url, duration_seconds, genre, year, created_at, admin_id
        FROM videos
        WHERE id = $1
    `, id)

	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// Delete removes a video by id.
func (r *PostgresVideoRepository) Delete(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		video       models.Video
		description sql.NullString
		thumbnail   sql.NullString
		genre       sql.NullString
		duration    sql.NullInt32
		year        sql.NullInt32
	)
	if err := row.Scan(&video.ID, &video.Title, &description, &video.FileRef, &thumbnail, &duration, &genre, &year, &video.CreatedAt, &video.OwnerID); err != nil {
		return models.Video{}, err
	}
	video.Description = description.String
	video.ThumbnailRef = thumbnail.String
	video.Genre = genre.String
	video.CreatedAt = video.CreatedAt.UTC()
	if duration.Valid {
		d := int(duration.Int32)
		video.DurationSeconds = &d
	}
	if year.Valid {
		y := int(year.Int32)
		video.Year = &y
	}
	return video, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ ProfileRepository = (*PostgresProfileRepository)(nil)
var _ VideoRepository = (*PostgresVideoRepository)(nil)

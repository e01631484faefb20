package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound indicates the token does not map to a stored session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session existed but is past its expiry.
	ErrSessionExpired = errors.New("session expired")
)

// SessionStore persists identity sessions so they survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Tokens issues, resolves and revokes identity sessions.
type Tokens struct {
	ttl   time.Duration
	store SessionStore
	now   func() time.Time
}

// NewTokens constructs a token issuer whose sessions live for ttl.
func NewTokens(ttl time.Duration, store SessionStore) *Tokens {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Tokens{ttl: ttl, store: store, now: time.Now}
}

// Issue stores a fresh session for userID.
func (t *Tokens) Issue(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, errors.New("user id must be provided")
	}

	token, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}

	session := Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: t.now().UTC().Add(t.ttl),
	}
	if err := t.store.Save(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Resolve returns the live session for token. Expired sessions are removed.
func (t *Tokens) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}

	session, err := t.store.Find(ctx, token)
	if err != nil {
		return Session{}, err
	}

	if t.now().UTC().After(session.ExpiresAt) {
		_ = t.store.Delete(ctx, token)
		return Session{}, ErrSessionExpired
	}
	return session, nil
}

// Revoke deletes the session. Revoking an unknown token is not an error.
func (t *Tokens) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := t.store.Delete(ctx, token); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

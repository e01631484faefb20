package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/silluthedon/delta/internal/auth"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
)

const minPasswordLength = 8

var (
	// ErrInvalidCredentials indicates the email/password pair was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyRegistered indicates an account already exists for the email.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrWeakCredential indicates the email or password does not meet requirements.
	ErrWeakCredential = errors.New("weak credential")
	// ErrSignOutFailed indicates the session could not be revoked.
	ErrSignOutFailed = errors.New("sign out failed")
)

// Event reports a session change. A nil Principal means the session ended.
type Event struct {
	Principal *models.Principal
}

// UserStore is the account persistence the identity provider needs.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Service verifies credentials and issues sessions. It hands out one Client per browser.
type Service struct {
	users    UserStore
	tokens   *auth.Tokens
	hashCost int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for failures the service absorbs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires account storage and session tokens together.
func NewService(users UserStore, tokens *auth.Tokens, opts ...Option) *Service {
	s := &Service{
		users:    users,
		tokens:   tokens,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient returns a client bound to token, which may be empty for an anonymous browser.
func (s *Service) NewClient(token string) *Client {
	return &Client{
		svc:       s,
		token:     token,
		listeners: make(map[int]func(Event)),
	}
}

// Client is a single browser's view of the identity provider.
type Client struct {
	svc *Service

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	listeners map[int]func(Event)
	nextID    int

	// delivery serialises listener calls so events arrive in order.
	delivery sync.Mutex
}

// Token returns the current session token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnSessionChange registers fn for session events and returns its unsubscribe function.
func (c *Client) OnSessionChange(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// CurrentSession returns the signed-in principal, or nil when there is no live session.
func (c *Client) CurrentSession(ctx context.Context) (*models.Principal, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}

	session, err := c.svc.tokens.Resolve(ctx, token)
	if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrSessionExpired) {
		c.setSession("", time.Time{})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	user, err := c.svc.users.FindByID(ctx, session.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		c.setSession("", time.Time{})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}

	c.mu.Lock()
	if c.token == token {
		c.expiresAt = session.ExpiresAt
	}
	c.mu.Unlock()
	return &models.Principal{ID: user.ID, Email: user.Email}, nil
}

// Verify ends the session when its token has expired or been revoked, reporting
// termination to listeners. The token store is consulted only once the
// token's known expiry has passed.
func (c *Client) Verify(ctx context.Context) error {
	c.mu.Lock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.Unlock()
	if token == "" || c.svc.now().Before(expiresAt) {
		return nil
	}

	session, err := c.svc.tokens.Resolve(ctx, token)
	if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrSessionExpired) {
		c.end(token)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	c.mu.Lock()
	if c.token == token {
		c.expiresAt = session.ExpiresAt
	}
	c.mu.Unlock()
	return nil
}

// SignInWithPassword verifies credentials and starts a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := c.svc.users.FindByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return c.start(ctx, user)
}

// SignUp creates an account and starts a session for it.
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Principal, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: invalid email address", ErrWeakCredential)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrWeakCredential, minPasswordLength)
	}

	if _, err := c.svc.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), c.svc.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := c.svc.now().UTC()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  string(hashed),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.svc.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return c.start(ctx, user)
}

// SignOut revokes the session and reports termination to listeners.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.Token()
	if err := c.svc.tokens.Revoke(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrSignOutFailed, err)
	}
	c.setSession("", time.Time{})
	c.emit(Event{})
	return nil
}

func (c *Client) start(ctx context.Context, user models.User) (*models.Principal, error) {
	session, err := c.svc.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	previous := c.Token()
	c.setSession(session.Token, session.ExpiresAt)
	if previous != "" && previous != session.Token {
		if err := c.svc.tokens.Revoke(ctx, previous); err != nil {
			c.svc.logger.Warn("revoke replaced session failed", "user_id", user.ID, "error", err)
		}
	}

	principal := &models.Principal{ID: user.ID, Email: user.Email}
	c.emit(Event{Principal: &models.Principal{ID: principal.ID, Email: principal.Email}})
	return principal, nil
}

func (c *Client) setSession(token string, expiresAt time.Time) {
	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	c.mu.Unlock()
}

// end clears the session if token is still current and reports termination.
func (c *Client) end(token string) {
	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	c.emit(Event{})
}

func (c *Client) emit(ev Event) {
	c.delivery.Lock()
	defer c.delivery.Unlock()

	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	listeners := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

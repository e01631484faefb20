package identity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/silluthedon/delta/internal/auth"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]models.User)}
}

func (m *memUsers) Create(_ context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return repositories.ErrConflict
	}
	m.byEmail[user.Email] = user
	return nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

type brokenSessions struct {
	*auth.InMemorySessionStore
}

func (brokenSessions) Delete(context.Context, string) error {
	return errors.New("connection reset")
}

func newService(t *testing.T, store auth.SessionStore) (*Service, *memUsers) {
	t.Helper()
	users := newMemUsers()
	if store == nil {
		store = auth.NewInMemorySessionStore()
	}
	svc := NewService(users, auth.NewTokens(time.Hour, store))
	svc.hashCost = bcrypt.MinCost
	return svc, users
}

func TestSignUpThenSignIn(t *testing.T) {
	svc, users := newService(t, nil)
	ctx := context.Background()

	client := svc.NewClient("")
	var events []Event
	unsubscribe := client.OnSessionChange(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	principal, err := client.SignUp(ctx, "  Viewer@Example.com ", "supersafe")
	require.NoError(t, err)
	assert.Equal(t, "viewer@example.com", principal.Email)
	assert.NotEmpty(t, client.Token())

	stored, err := users.FindByEmail(ctx, "viewer@example.com")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("supersafe")))

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Principal)
	assert.Equal(t, principal.ID, events[0].Principal.ID)

	other := svc.NewClient("")
	signedIn, err := other.SignInWithPassword(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)
	assert.Equal(t, principal.ID, signedIn.ID)
}

func TestSignUpFailures(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	client := svc.NewClient("")

	_, err := client.SignUp(ctx, "not-an-email", "supersafe")
	assert.ErrorIs(t, err, ErrWeakCredential)

	_, err = client.SignUp(ctx, "viewer@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakCredential)

	_, err = client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)

	_, err = svc.NewClient("").SignUp(ctx, "viewer@example.com", "supersafe")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.NewClient("").SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)

	client := svc.NewClient("")
	fired := false
	client.OnSessionChange(func(Event) { fired = true })

	_, err = client.SignInWithPassword(ctx, "viewer@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = client.SignInWithPassword(ctx, "nobody@example.com", "supersafe")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, fired)
	assert.Empty(t, client.Token())
}

func TestCurrentSessionRestoresFromToken(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	first := svc.NewClient("")
	principal, err := first.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)

	restored := svc.NewClient(first.Token())
	current, err := restored.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, principal.ID, current.ID)

	anonymous, err := svc.NewClient("").CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, anonymous)

	unknown := svc.NewClient("bogus")
	current, err = unknown.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Empty(t, unknown.Token())
}

func TestSignOutEmitsTermination(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	client := svc.NewClient("")
	_, err := client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)
	token := client.Token()

	var events []Event
	client.OnSessionChange(func(ev Event) { events = append(events, ev) })

	require.NoError(t, client.SignOut(ctx))
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Principal)
	assert.Empty(t, client.Token())

	current, err := svc.NewClient(token).CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestSignOutFailureKeepsSession(t *testing.T) {
	svc, _ := newService(t, brokenSessions{auth.NewInMemorySessionStore()})
	ctx := context.Background()
	client := svc.NewClient("")
	_, err := client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)

	fired := false
	client.OnSessionChange(func(Event) { fired = true })

	err = client.SignOut(ctx)
	assert.ErrorIs(t, err, ErrSignOutFailed)
	assert.False(t, fired)
	assert.NotEmpty(t, client.Token())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc, _ := newService(t, nil)
	client := svc.NewClient("")

	calls := 0
	unsubscribe := client.OnSessionChange(func(Event) { calls++ })
	unsubscribe()
	unsubscribe()

	_, err := client.SignUp(context.Background(), "viewer@example.com", "supersafe")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestVerifyEndsRevokedSessionOnceExpired(t *testing.T) {
	store := auth.NewInMemorySessionStore()
	svc, _ := newService(t, store)
	ctx := context.Background()
	client := svc.NewClient("")
	_, err := client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)
	token := client.Token()

	var events []Event
	client.OnSessionChange(func(ev Event) { events = append(events, ev) })

	// The stored session disappears, as when it is purged after expiry.
	require.NoError(t, store.Delete(ctx, token))

	require.NoError(t, client.Verify(ctx))
	assert.Equal(t, token, client.Token(), "store is not consulted before the known expiry")
	assert.Empty(t, events)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, client.Verify(ctx))
	assert.Empty(t, client.Token())
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Principal)

	require.NoError(t, client.Verify(ctx))
	assert.Len(t, events, 1)
}

func TestVerifyKeepsLiveSession(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	client := svc.NewClient("")
	_, err := client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)

	fired := false
	client.OnSessionChange(func(Event) { fired = true })

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, client.Verify(ctx))
	assert.NotEmpty(t, client.Token())
	assert.False(t, fired)
}

func TestReplacedSessionRevokeFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	users := newMemUsers()
	svc := NewService(users, auth.NewTokens(time.Hour, brokenSessions{auth.NewInMemorySessionStore()}),
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	svc.hashCost = bcrypt.MinCost
	ctx := context.Background()

	client := svc.NewClient("")
	_, err := client.SignUp(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)
	first := client.Token()

	_, err = client.SignInWithPassword(ctx, "viewer@example.com", "supersafe")
	require.NoError(t, err)
	assert.NotEqual(t, first, client.Token())
	assert.Contains(t, buf.String(), "revoke replaced session failed")
	assert.Contains(t, buf.String(), "connection reset")
}

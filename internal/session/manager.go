package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/silluthedon/delta/internal/entitlement"
	"github.com/silluthedon/delta/internal/identity"
	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/repositories"
)

// SubscriptionPeriod is how long an activated subscription is recorded as valid.
const SubscriptionPeriod = 30 * 24 * time.Hour

var (
	// ErrProfileUnavailable indicates the profile store could not produce a profile.
	ErrProfileUnavailable = errors.New("profile unavailable")
	// ErrNoSession is returned by operations that need a signed-in principal.
	ErrNoSession = errors.New("no active session")
)

// State is the position of the session in its lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateReady           State = "ready"
)

// Identity is the identity provider as seen by one browser.
type Identity interface {
	CurrentSession(ctx context.Context) (*models.Principal, error)
	OnSessionChange(fn func(identity.Event)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*models.Principal, error)
	SignUp(ctx context.Context, email, password string) (*models.Principal, error)
	SignOut(ctx context.Context) error
}

// ProfileStore persists subscription profiles. GetProfile returns
// repositories.ErrNotFound when no profile exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	CreateProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) error
}

// Snapshot is an immutable copy of the session state handed to observers.
type Snapshot struct {
	State              State             `json:"state"`
	Principal          *models.Principal `json:"principal,omitempty"`
	Profile            *models.Profile   `json:"profile,omitempty"`
	Entitlement        entitlement.Level `json:"entitlement"`
	Loading            bool              `json:"loading"`
	ProfileUnavailable bool              `json:"profileUnavailable"`
}

// Manager owns the authentication and profile state of one browser session.
//
// Every profile resolution and every session termination bumps a generation
// counter; a resolution result is adopted only if its generation is still
// current, so a late result never overwrites a newer state.
type Manager struct {
	identity Identity
	profiles ProfileStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// notify serialises state transitions with observer delivery so observers
	// see snapshots in transition order.
	notify sync.Mutex

	mu                 sync.Mutex
	state              State
	principal          *models.Principal
	profile            *models.Profile
	loading            bool
	idle               chan struct{}
	profileUnavailable bool
	generation         uint64
	closed             bool
	unsubscribe        func()
	observers          map[int]func(Snapshot)
	nextObserver       int
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for absorbed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records resolution outcomes.
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source used for profile creation and expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a manager in the loading state. Call Bootstrap to start it.
func NewManager(id Identity, profiles ProfileStore, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		identity:  id,
		profiles:  profiles,
		logger:    slog.Default(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateUnauthenticated,
		loading:   true,
		idle:      make(chan struct{}),
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap subscribes to identity events and restores any existing session.
// The profile of a restored session is resolved before Bootstrap returns.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.unsubscribe == nil {
		m.unsubscribe = m.identity.OnSessionChange(m.handleIdentityEvent)
	}
	m.mu.Unlock()

	principal, err := m.identity.CurrentSession(ctx)
	if err != nil {
		m.logger.Warn("identity session lookup failed, continuing signed out", "error", err)
		principal = nil
	}

	if principal == nil {
		m.update(func() bool {
			m.generation++
			m.principal = nil
			m.profile = nil
			m.profileUnavailable = false
			m.state = StateUnauthenticated
			m.setLoadingLocked(false)
			return true
		})
		return nil
	}

	gen, ok := m.begin(principal, true, false)
	if ok {
		_ = m.run(ctx, gen, *principal)
	}
	return nil
}

func (m *Manager) handleIdentityEvent(ev identity.Event) {
	if ev.Principal == nil {
		m.update(func() bool {
			if m.closed {
				return false
			}
			m.generation++
			m.principal = nil
			m.profile = nil
			m.profileUnavailable = false
			m.state = StateUnauthenticated
			m.setLoadingLocked(false)
			return true
		})
		return
	}

	principal := *ev.Principal
	gen, ok := m.begin(&principal, true, true)
	if !ok {
		return
	}
	go func() {
		defer m.wg.Done()
		_ = m.run(m.ctx, gen, principal)
	}()
}

// ResolveProfile loads the profile for principalID, creating an inactive one on
// first use. Store failures are absorbed into the ProfileUnavailable flag and
// also returned as ErrProfileUnavailable.
func (m *Manager) ResolveProfile(ctx context.Context, principalID string) error {
	m.mu.Lock()
	if m.principal == nil || m.principal.ID != principalID {
		m.mu.Unlock()
		return ErrNoSession
	}
	principal := *m.principal
	m.mu.Unlock()

	gen, ok := m.begin(&principal, false, false)
	if !ok {
		return ErrNoSession
	}
	return m.run(ctx, gen, principal)
}

// RefreshProfile re-resolves the current principal's profile.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	principal := m.Snapshot().Principal
	if principal == nil {
		return nil
	}
	return m.ResolveProfile(ctx, principal.ID)
}

// SignIn delegates to the identity provider. The resulting session event drives
// profile resolution.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	_, err := m.identity.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp delegates to the identity provider.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	_, err := m.identity.SignUp(ctx, email, password)
	return err
}

// SignOut delegates to the identity provider. State is cleared by the
// termination event, not here.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.identity.SignOut(ctx)
}

// UpdateSubscription writes status for the current principal and re-reads the
// profile from the store. Without a session it does nothing.
func (m *Manager) UpdateSubscription(ctx context.Context, status models.SubscriptionStatus) error {
	principal := m.Snapshot().Principal
	if principal == nil {
		return nil
	}
	if !status.Valid() {
		return fmt.Errorf("invalid subscription status %q", status)
	}

	if err := m.profiles.UpdateProfile(ctx, principal.ID, SubscriptionUpdate(status, m.now())); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return m.ResolveProfile(ctx, principal.ID)
}

// SubscriptionUpdate builds the profile fields written for status at now.
func SubscriptionUpdate(status models.SubscriptionStatus, now time.Time) models.ProfileUpdate {
	update := models.ProfileUpdate{SubscriptionStatus: status}
	if status == models.SubscriptionActive {
		expires := now.UTC().Add(SubscriptionPeriod)
		update.SubscriptionExpiresAt = &expires
	}
	return update
}

// Subscribe registers fn for every state change and returns its unsubscribe function.
// fn must not call mutating Manager methods.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Settled blocks until no profile resolution is pending and returns the state at that point.
func (m *Manager) Settled(ctx context.Context) (Snapshot, error) {
	for {
		m.mu.Lock()
		if !m.loading {
			snap := m.snapshotLocked()
			m.mu.Unlock()
			return snap, nil
		}
		idle := m.idle
		m.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

// Close detaches from the identity provider and discards in-flight resolutions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.setLoadingLocked(false)
	m.mu.Unlock()
}

// begin starts a resolution attempt. A fresh attempt comes from a new identity
// session and resets the profile. A background attempt is added to the wait
// group while the state lock proves the manager is still open.
func (m *Manager) begin(principal *models.Principal, fresh, background bool) (uint64, bool) {
	var gen uint64
	ok := false
	m.update(func() bool {
		if m.closed {
			return false
		}
		if !fresh && (m.principal == nil || m.principal.ID != principal.ID) {
			return false
		}
		m.generation++
		gen = m.generation
		ok = true
		if background {
			m.wg.Add(1)
		}
		if fresh {
			p := *principal
			m.principal = &p
			m.profile = nil
			m.profileUnavailable = false
			m.state = StateAuthenticating
		}
		m.setLoadingLocked(true)
		return true
	})
	return gen, ok
}

type resolution struct {
	profile models.Profile
	outcome string
	err     error
}

func (m *Manager) run(ctx context.Context, gen uint64, principal models.Principal) error {
	res := m.fetch(ctx, principal)

	adopted := false
	m.update(func() bool {
		if m.closed || gen != m.generation {
			return false
		}
		adopted = true
		if res.err != nil {
			m.profile = nil
			m.profileUnavailable = true
			m.state = StateAuthenticated
		} else {
			p := res.profile
			m.profile = &p
			m.profileUnavailable = false
			m.state = StateReady
		}
		m.setLoadingLocked(false)
		return true
	})

	if !adopted {
		m.metrics.ProfileResolved("discarded")
		m.logger.Debug("discarding stale profile resolution", "principal_id", principal.ID, "generation", gen)
		return nil
	}

	m.metrics.ProfileResolved(res.outcome)
	if res.err != nil {
		m.logger.Error("profile resolution failed", "principal_id", principal.ID, "error", res.err)
		return fmt.Errorf("%w: %v", ErrProfileUnavailable, res.err)
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context, principal models.Principal) resolution {
	profile, err := m.profiles.GetProfile(ctx, principal.ID)
	if err == nil {
		return resolution{profile: profile, outcome: "found"}
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return resolution{outcome: "unavailable", err: err}
	}

	created, err := m.profiles.CreateProfile(ctx, models.Profile{
		ID:                 principal.ID,
		Email:              principal.Email,
		SubscriptionStatus: models.SubscriptionInactive,
		CreatedAt:          m.now().UTC(),
	})
	if errors.Is(err, repositories.ErrConflict) {
		// Another workspace created it first.
		profile, err = m.profiles.GetProfile(ctx, principal.ID)
		if err != nil {
			return resolution{outcome: "unavailable", err: err}
		}
		return resolution{profile: profile, outcome: "found"}
	}
	if err != nil {
		return resolution{outcome: "unavailable", err: err}
	}
	return resolution{profile: created, outcome: "created"}
}

// update applies fn under the state lock and, when it reports a change,
// delivers the new snapshot to observers.
func (m *Manager) update(fn func() bool) {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (m *Manager) setLoadingLocked(loading bool) {
	if loading == m.loading {
		return
	}
	m.loading = loading
	if loading {
		m.idle = make(chan struct{})
	} else {
		close(m.idle)
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:              m.state,
		Loading:            m.loading,
		ProfileUnavailable: m.profileUnavailable,
	}
	if m.principal != nil {
		p := *m.principal
		snap.Principal = &p
	}
	if m.profile != nil {
		p := *m.profile
		if p.SubscriptionExpiresAt != nil {
			exp := *p.SubscriptionExpiresAt
			p.SubscriptionExpiresAt = &exp
		}
		snap.Profile = &p
	}
	snap.Entitlement = entitlement.Evaluate(snap.Profile)
	return snap
}

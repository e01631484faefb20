package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/search"
	"github.com/silluthedon/delta/internal/session"
)

// Identity is a per-browser identity client that also exposes its session token.
type Identity interface {
	session.Identity
	Token() string
	// Verify ends the session, through the usual termination event, once its
	// token is no longer live.
	Verify(ctx context.Context) error
}

// IdentityFactory returns an identity client bound to token.
type IdentityFactory func(token string) Identity

// Workspace is the server-side state of one browser: its identity client,
// session manager and search input.
type Workspace struct {
	ID       string
	Identity Identity
	Session  *session.Manager
	Search   *search.State

	lastSeen time.Time
}

// Token returns the identity token the browser should keep.
func (w *Workspace) Token() string {
	return w.Identity.Token()
}

// Options configures a Registry.
type Options struct {
	IdleTTL time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Registry owns every live workspace.
type Registry struct {
	newIdentity IdentityFactory
	profiles    session.ProfileStore
	catalog     search.SnapshotSource
	idleTTL     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewRegistry constructs an empty registry.
func NewRegistry(newIdentity IdentityFactory, profiles session.ProfileStore, catalog search.SnapshotSource, opts Options) *Registry {
	r := &Registry{
		newIdentity: newIdentity,
		profiles:    profiles,
		catalog:     catalog,
		idleTTL:     opts.IdleTTL,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Clock,
		workspaces:  make(map[string]*Workspace),
	}
	if r.idleTTL <= 0 {
		r.idleTTL = 30 * time.Minute
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Get returns the stored workspace for clientID after checking that its
// identity session is still live. Without one, a new workspace is
// bootstrapped from token. The new workspace is stored only when token yields
// a signed-in session; anonymous browsers get a throwaway workspace that the
// caller hands back through Release, or stores through Keep once it signs in.
// stored reports whether this call stored a new workspace.
func (r *Registry) Get(ctx context.Context, clientID, token string) (ws *Workspace, stored bool, err error) {
	r.mu.Lock()
	existing, ok := r.workspaces[clientID]
	if ok && clientID != "" {
		existing.lastSeen = r.now()
	}
	r.mu.Unlock()
	if ok && clientID != "" {
		if err := existing.Identity.Verify(ctx); err != nil {
			r.logger.Warn("identity session check failed", "workspace_id", existing.ID, "error", err)
		}
		return existing, false, nil
	}

	client := r.newIdentity(token)
	manager := session.NewManager(client, r.profiles,
		session.WithLogger(r.logger),
		session.WithMetrics(r.metrics),
		session.WithClock(r.now),
	)
	if err := manager.Bootstrap(ctx); err != nil {
		manager.Close()
		return nil, false, err
	}

	ws = &Workspace{
		ID:       uuid.NewString(),
		Identity: client,
		Session:  manager,
		Search:   search.NewState(r.catalog),
		lastSeen: r.now(),
	}
	if manager.Snapshot().Principal == nil {
		return ws, false, nil
	}

	r.Keep(ws)
	r.logger.Debug("workspace restored from token", "workspace_id", ws.ID)
	return ws, true, nil
}

// Keep stores ws so later requests carrying its id reuse it. It reports
// whether ws was newly stored.
func (r *Registry) Keep(ws *Workspace) bool {
	r.mu.Lock()
	if r.workspaces[ws.ID] == ws {
		r.mu.Unlock()
		return false
	}
	ws.lastSeen = r.now()
	r.workspaces[ws.ID] = ws
	n := len(r.workspaces)
	r.mu.Unlock()

	r.metrics.WorkspacesActive(n)
	return true
}

// Release closes ws unless it is stored.
func (r *Registry) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	r.mu.Lock()
	stored := r.workspaces[ws.ID] == ws
	r.mu.Unlock()
	if !stored {
		ws.Session.Close()
	}
}

// Remove closes and forgets a workspace.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	delete(r.workspaces, id)
	n := len(r.workspaces)
	r.mu.Unlock()

	if !ok {
		return
	}
	ws.Session.Close()
	r.metrics.WorkspacesActive(n)
}

// Len reports the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// RefreshPrincipal re-resolves the profile in every workspace signed in as
// principalID and returns how many were refreshed.
func (r *Registry) RefreshPrincipal(ctx context.Context, principalID string) int {
	var targets []*Workspace
	r.mu.Lock()
	for _, ws := range r.workspaces {
		targets = append(targets, ws)
	}
	r.mu.Unlock()

	refreshed := 0
	for _, ws := range targets {
		p := ws.Session.Snapshot().Principal
		if p == nil || p.ID != principalID {
			continue
		}
		if err := ws.Session.ResolveProfile(ctx, principalID); err != nil {
			r.logger.Warn("workspace profile refresh failed", "workspace_id", ws.ID, "error", err)
			continue
		}
		refreshed++
	}
	return refreshed
}

// Sweep closes workspaces idle for longer than the configured TTL.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	var idle []*Workspace
	r.mu.Lock()
	for id, ws := range r.workspaces {
		if ws.lastSeen.Before(cutoff) {
			idle = append(idle, ws)
			delete(r.workspaces, id)
		}
	}
	n := len(r.workspaces)
	r.mu.Unlock()

	for _, ws := range idle {
		ws.Session.Close()
	}
	if len(idle) > 0 {
		r.metrics.WorkspacesActive(n)
		r.logger.Info("swept idle workspaces", "count", len(idle), "remaining", n)
	}
	return len(idle)
}

// Run sweeps idle workspaces every interval until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every workspace.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range all {
		ws.Session.Close()
	}
	r.metrics.WorkspacesActive(0)
}

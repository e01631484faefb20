package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/silluthedon/delta/internal/logging"
	"github.com/silluthedon/delta/internal/session"
	"github.com/silluthedon/delta/internal/workspace"
)

const (
	// ClientCookie binds a browser to its server-side workspace.
	ClientCookie = "delta_client"
	// TokenCookie carries the identity session token across restarts.
	TokenCookie = "delta_token"
)

// CookieOptions controls the cookies the API sets.
type CookieOptions struct {
	Secure   bool
	TokenTTL time.Duration
}

type ctxKey int

const (
	workspaceKey ctxKey = iota
	sessionKey
)

type workspaceBinder struct {
	workspaces     Workspaces
	cookies        CookieOptions
	resolveTimeout time.Duration
	adminEmails    []string
}

// attach binds the request to the browser's workspace. Anonymous browsers get
// a workspace that lives for this request only unless the handler keeps it.
func (b workspaceBinder) attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientID := cookieValue(r, ClientCookie)
		token := cookieValue(r, TokenCookie)

		ws, stored, err := b.workspaces.Get(ctx, clientID, token)
		if err != nil {
			logging.FromContext(ctx).Error("workspace lookup failed", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "workspace_unavailable", "unable to prepare session")
			return
		}
		defer b.workspaces.Release(ws)
		if stored {
			b.setClientCookie(w, ws.ID)
		}
		if current := ws.Token(); current != token {
			b.setTokenCookie(w, current)
		}

		ctx = logging.With(ctx, "workspace_id", ws.ID)
		ctx = context.WithValue(ctx, workspaceKey, ws)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession waits for any pending profile resolution and rejects
// requests without a signed-in principal.
func (b workspaceBinder) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ws := workspaceFrom(ctx)
		if ws == nil {
			respondError(ctx, w, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}

		snap := b.settle(ctx, ws)
		if snap.Principal == nil {
			respondError(ctx, w, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}

		ctx = logging.With(ctx, "principal_id", snap.Principal.ID)
		ctx = context.WithValue(ctx, sessionKey, snap)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin must run after requireSession.
func (b workspaceBinder) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snap, ok := sessionFrom(ctx)
		if !ok || !b.isAdmin(snap) {
			respondError(ctx, w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// settle returns the session once resolution finishes, or the current state
// if that takes longer than the resolve timeout.
func (b workspaceBinder) settle(ctx context.Context, ws *workspace.Workspace) session.Snapshot {
	timeout := b.resolveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := ws.Session.Settled(waitCtx)
	if err != nil {
		logging.FromContext(ctx).Warn("profile resolution still pending", "error", err)
	}
	return snap
}

func (b workspaceBinder) isAdmin(snap session.Snapshot) bool {
	if snap.Principal == nil {
		return false
	}
	return slices.Contains(b.adminEmails, strings.ToLower(snap.Principal.Email))
}

func (b workspaceBinder) setClientCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b workspaceBinder) setTokenCookie(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	} else if b.cookies.TokenTTL > 0 {
		cookie.MaxAge = int(b.cookies.TokenTTL / time.Second)
	}
	http.SetCookie(w, cookie)
}

func (b workspaceBinder) clearClientCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func workspaceFrom(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceKey).(*workspace.Workspace)
	return ws
}

func sessionFrom(ctx context.Context) (session.Snapshot, bool) {
	snap, ok := ctx.Value(sessionKey).(session.Snapshot)
	return snap, ok
}

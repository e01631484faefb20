package handlers

import (
	"context"
	"net/http"

	"github.com/silluthedon/delta/internal/logging"
	"github.com/silluthedon/delta/internal/models"
	"github.com/silluthedon/delta/internal/session"
	"github.com/silluthedon/delta/internal/workspace"
)

// AuthHandler implements sign-in, sign-up, sign-out and the session endpoint.
type AuthHandler struct {
	binder     workspaceBinder
	workspaces Workspaces
	paymentURL string
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=128"`
}

type subscriptionRequest struct {
	Status models.SubscriptionStatus `json:"status" validate:"required,oneof=inactive active expired"`
}

type sessionResponse struct {
	Session    session.Snapshot `json:"session"`
	IsAdmin    bool             `json:"isAdmin"`
	PaymentURL string           `json:"paymentUrl,omitempty"`
}

// SignIn handles POST /api/v1/auth/signin.
func (h AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "signin", http.StatusOK, func(ctx context.Context, ws *workspace.Workspace, req credentialsRequest) error {
		return ws.Session.SignIn(ctx, req.Email, req.Password)
	})
}

// SignUp handles POST /api/v1/auth/signup.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "signup", http.StatusCreated, func(ctx context.Context, ws *workspace.Workspace, req credentialsRequest) error {
		return ws.Session.SignUp(ctx, req.Email, req.Password)
	})
}

func (h AuthHandler) authenticate(w http.ResponseWriter, r *http.Request, action string, status int, do func(context.Context, *workspace.Workspace, credentialsRequest) error) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	ws := workspaceFrom(ctx)

	var req credentialsRequest
	if errResp := decodeJSON(w, r, &req); errResp != nil {
		logger.Warn("invalid credentials payload", "action", action, "code", errResp.Code)
		respondJSON(ctx, w, http.StatusBadRequest, errResp)
		return
	}

	if err := do(ctx, ws, req); err != nil {
		logger.Warn("authentication rejected", "action", action, "error", err)
		respondServiceError(ctx, w, err)
		return
	}

	if h.workspaces.Keep(ws) {
		h.binder.setClientCookie(w, ws.ID)
	}
	snap := h.binder.settle(ctx, ws)
	h.binder.setTokenCookie(w, ws.Token())
	logger.Info("authenticated", "action", action, "state", snap.State)
	respondJSON(ctx, w, status, h.sessionPayload(snap))
}

// SignOut handles POST /api/v1/auth/signout. The workspace is discarded so the
// next request starts from a clean search and session state.
func (h AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws := workspaceFrom(ctx)

	if err := ws.Session.SignOut(ctx); err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	snap := ws.Session.Snapshot()
	h.workspaces.Remove(ws.ID)
	h.binder.setTokenCookie(w, "")
	h.binder.clearClientCookie(w)
	respondJSON(ctx, w, http.StatusOK, h.sessionPayload(snap))
}

// Session handles GET /api/v1/session. It answers for signed-out browsers too.
func (h AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := h.binder.settle(ctx, workspaceFrom(ctx))
	respondJSON(ctx, w, http.StatusOK, h.sessionPayload(snap))
}

// UpdateSubscription handles POST /api/v1/session/subscription for the caller's own profile.
func (h AuthHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws := workspaceFrom(ctx)

	var req subscriptionRequest
	if errResp := decodeJSON(w, r, &req); errResp != nil {
		respondJSON(ctx, w, http.StatusBadRequest, errResp)
		return
	}

	if err := ws.Session.UpdateSubscription(ctx, req.Status); err != nil {
		respondServiceError(ctx, w, err)
		return
	}

	snap := ws.Session.Snapshot()
	if snap.Principal != nil {
		h.workspaces.RefreshPrincipal(ctx, snap.Principal.ID)
	}
	respondJSON(ctx, w, http.StatusOK, h.sessionPayload(snap))
}

func (h AuthHandler) sessionPayload(snap session.Snapshot) sessionResponse {
	resp := sessionResponse{Session: snap, IsAdmin: h.binder.isAdmin(snap)}
	if snap.Principal != nil && !snap.Entitlement.IsFull() {
		resp.PaymentURL = h.paymentURL
	}
	return resp
}

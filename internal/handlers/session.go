package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/auth"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/requestctx"
	"github.com/navajothi-jewels/storefront-sync/internal/session"
)

// SessionHandlers signs the bridge in and out. Signing in exchanges a bearer token for an identity
// and makes it current, which resets and reconciles every collection.
type SessionHandlers struct {
	verifier auth.Verifier
	session  *session.Context
}

// NewSessionHandlers constructs session handlers.
func NewSessionHandlers(verifier auth.Verifier, sess *session.Context) *SessionHandlers {
	return &SessionHandlers{verifier: verifier, session: sess}
}

// Routes wires the /session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/session", h.getSession)
	r.Post("/session", h.signIn)
	r.Delete("/session", h.signOut)
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
	SignedIn  bool   `json:"signed_in"`
	UID       string `json:"uid,omitempty"`
	Email     string `json:"email,omitempty"`
	Epoch     uint64 `json:"epoch"`
}

func (h *SessionHandlers) payload(state session.State) sessionPayload {
	return sessionPayload{
		SessionID: h.session.ID(),
		SignedIn:  state.SignedIn,
		UID:       state.Identity.UID,
		Email:     state.Identity.Email,
		Epoch:     state.Epoch,
	}
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, h.payload(h.session.Snapshot()))
}

func (h *SessionHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "sign-in is not configured", http.StatusServiceUnavailable))
		return
	}
	token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "bearer token required", http.StatusUnauthorized))
		return
	}
	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		code := "invalid_token"
		if errors.Is(err, auth.ErrTokenExpired) {
			code = "token_expired"
		}
		requestctx.Logger(ctx).Info("session.sign_in_rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(code, "token verification failed", http.StatusUnauthorized))
		return
	}
	state := h.session.SignIn(identity)
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, h.payload(state))
}

func (h *SessionHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	state := h.session.SignOut()
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, h.payload(state))
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/hndang/authbridge/internal/apperror"
	"github.com/hndang/authbridge/internal/auth"
	"github.com/hndang/authbridge/internal/provider"
	"github.com/hndang/authbridge/internal/service"
)

// sessionCookieAge mirrors the session token lifetime in internal/auth.
var sessionCookieAge = int((12 * time.Hour).Seconds())

// ProviderBinder turns the authorization code delivered to the OAuth
// callback into the identity provider instance that can finish that
// handshake. The hosted Google provider binds the code; the local provider
// ignores it.
type ProviderBinder func(code string) provider.IdentityProvider

// AuthHandler is the HTTP surface of the sign-in flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGoogleLogin    → send the browser to the consent page
//   - HandleGoogleCallback → run the reconciliation flow for the returned code
//   - HandleGoogleLink     → finish linking once the UI collected the password
//   - HandleRegister / HandlePasswordLogin → the email+password paths
//   - HandleSession        → exchange a Bearer ID token for a session cookie
//   - HandleMe / HandleLogout → session introspection and teardown
//
// The handler owns no auth decisions: it parses requests, derives a
// request-scoped AuthService, and translates outcomes to HTTP.
type AuthHandler struct {
	svc     *service.AuthService
	bind    ProviderBinder
	authURL func(state string) string
	tokens  *auth.TokenService
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected; the
// handler has no knowledge of which provider implementation it fronts.
func NewAuthHandler(
	svc *service.AuthService,
	bind ProviderBinder,
	authURL func(state string) string,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		svc:     svc,
		bind:    bind,
		authURL: authURL,
		tokens:  tokens,
		logger:  logger,
	}
}

// userResponse is the JSON shape of a signed-in account.
type userResponse struct {
	UID         string   `json:"uid"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	PhotoURL    string   `json:"photoURL"`
	Providers   []string `json:"providers"`
}

func toUserResponse(id *provider.Identity) userResponse {
	resp := userResponse{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
		Providers:   make([]string, 0, len(id.Providers)),
	}
	for _, t := range id.Providers {
		resp.Providers = append(resp.Providers, string(t))
	}
	return resp
}

// HandleGoogleLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/google/login
//
// The random state value goes into a short-lived cookie; the callback checks
// the provider echoed the same value back, which proves the handshake was
// started here and not by a cross-site attacker.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.authURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback settles the federated handshake.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// A clean settle answers with a session cookie and a redirect home. A
// credential conflict answers 409 carrying the conflicting email and the
// pending-credential token; the UI collects the password and finishes
// through HandleGoogleLink. This request cannot prompt the user itself, so
// the flow runs with the declining prompter.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// single-use
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/login?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	svc := h.svc.WithProvider(h.bind(code)).WithPrompter(service.NoPrompt)
	res, err := svc.SignInWithFederatedProvider(r.Context())
	h.settleSignIn(w, r, res, err, true)
}

// HandleGoogleResume picks up a sign-in that fell back to the redirect
// handshake.
//
// HTTP: GET /auth/google/resume
//
// The page calls this once on load. No pending redirect is the common case
// and answers 204; a parked handshake settles exactly like the callback
// would have. Against the hosted provider there is never a pending redirect
// here — the browser resumes through /api/session instead — so this route
// is effectively the local provider's resume path.
func (h *AuthHandler) HandleGoogleResume(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ResumeRedirectSignIn(r.Context())
	if err == nil && res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.settleSignIn(w, r, res, err, true)
}

// HandleGoogleLink finishes a conflicted sign-in.
//
// HTTP: POST /auth/google/link
// Body: {"email": ..., "password": ..., "pendingToken": ..., "provider": ...}
//
// This is the HTTP rendition of the password prompt: the 409 from the
// callback carried the email and pending token, the UI asked the user for
// the password, and this request performs password sign-in, credential
// linking, and the profile upsert in one step.
func (h *AuthHandler) HandleGoogleLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		PendingToken string `json:"pendingToken"`
		Provider     string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if req.PendingToken == "" {
		writeError(w, apperror.ValidationFailed("pendingToken", "pendingToken is required"))
		return
	}

	tag := provider.Tag(req.Provider)
	if tag == "" {
		tag = provider.TagGoogle
	}
	pending := &provider.PendingCredential{Provider: tag, Token: req.PendingToken}

	res, err := h.svc.LinkWithPassword(r.Context(), req.Email, req.Password, pending)
	h.settleSignIn(w, r, res, err, false)
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/register
// Body: {"name": ..., "email": ..., "password": ...}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	res, err := h.svc.RegisterWithPassword(r.Context(), req.Name, req.Email, req.Password)
	h.settleSignIn(w, r, res, err, false)
}

// HandlePasswordLogin signs in with email + password.
//
// HTTP: POST /api/login
// Body: {"email": ..., "password": ...}
func (h *AuthHandler) HandlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	id, err := h.svc.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.issueSession(w, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(id))
}

// HandleSession exchanges a provider ID token for a session cookie.
//
// HTTP: POST /api/session
// Header: Authorization: Bearer <ID token>
//
// This is the endpoint the page calls after a redirect handshake resumes in
// the browser: the page holds only the provider's ID token, and the gateway
// verifies it through the provider, ensures the profile record, and issues
// the application session.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || bearer == "" {
		writeError(w, apperror.ValidationFailed("authorization", "Bearer token required"))
		return
	}

	res, err := h.svc.IdentityFromToken(r.Context(), bearer)
	h.settleSignIn(w, r, res, err, false)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /api/logout
//
// POST, not GET: logout changes state, and GET would be exposed to CSRF and
// browser prefetching. The token itself stays valid until expiry; without
// the cookie the browser simply stops sending it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the stored profile of the signed-in account.
//
// HTTP: GET /api/me
// Auth: required (RequireAuth sets the UID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UIDFromContext(r.Context())
	if !ok {
		// unreachable behind RequireAuth, but be safe
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	profile, err := h.svc.GetProfile(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uid":         profile.UID,
		"email":       profile.Email,
		"displayName": profile.DisplayName,
		"photoURL":    profile.PhotoURL,
		"provider":    string(profile.Provider),
		"createdAt":   profile.CreatedAt,
		"updatedAt":   profile.UpdatedAt,
	})
}

// settleSignIn translates a SignInResult into HTTP.
//
// A settled identity gets a session even when the profile mirror failed —
// authentication is authoritative, so a profile-write error is logged and
// the sign-in proceeds. redirectHome switches between browser navigation
// (the OAuth callback) and a JSON body (the API endpoints).
func (h *AuthHandler) settleSignIn(w http.ResponseWriter, r *http.Request, res *service.SignInResult, err error, redirectHome bool) {
	if err != nil {
		if res == nil || res.Identity == nil || !errors.Is(err, apperror.ErrProfileWrite) {
			writeError(w, err)
			return
		}
		h.logger.Warn("proceeding with session despite profile write failure",
			slog.String("uid", res.Identity.UID),
			slog.String("error", err.Error()),
		)
	}

	if res.Redirected {
		// The handshake moved to a full-page redirect; nothing settles in
		// this request.
		writeJSON(w, http.StatusAccepted, map[string]any{"redirect": true})
		return
	}

	if err := h.issueSession(w, res.Identity); err != nil {
		writeError(w, err)
		return
	}
	if redirectHome {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(res.Identity))
}

// issueSession mints the session JWT and sets the HttpOnly cookie.
func (h *AuthHandler) issueSession(w http.ResponseWriter, id *provider.Identity) error {
	token, err := h.tokens.Generate(id.UID)
	if err != nil {
		h.logger.Error("session token generation failed",
			slog.String("uid", id.UID),
			slog.String("error", err.Error()),
		)
		return err
	}
	auth.SetSessionCookie(w, token, sessionCookieAge)
	return nil
}

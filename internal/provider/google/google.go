// Package google implements the identity-provider contract against Google's
// Identity Toolkit REST API — the same endpoints the original browser SDK
// talks to.
//
// FLOW SHAPE:
// The interactive part of a federated handshake (popup or full-page redirect)
// happens in the user's browser; what reaches this server is the OAuth
// authorization code delivered to our callback route. The handler binds a
// Provider to that code with WithAuthCode, and SignInPopup then finishes the
// handshake server-side: exchange the code for Google tokens
// (golang.org/x/oauth2), then present the resulting ID token to
// accounts:signInWithIdp.
//
// A server-bound provider therefore cannot START a browser redirect and
// never has a pending redirect of its own: SignInRedirect reports
// unsupported, and RedirectResult reports nothing pending. The browser
// resumes its redirect by posting the ID token to the session endpoint,
// which lands in LookupToken.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/hndang/authbridge/internal/provider"
)

// defaultEndpoint is the Identity Toolkit v1 base URL.
const defaultEndpoint = "https://identitytoolkit.googleapis.com/v1"

// Config carries the Google project credentials.
//
// APIKey is the Identity Toolkit browser key; ClientID/ClientSecret identify
// the OAuth application; CallbackURL must exactly match the authorized
// redirect URI configured in the Google console.
type Config struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Provider is the hosted identity provider. The zero value is not usable —
// construct with New, then bind per-request with WithAuthCode.
type Provider struct {
	apiKey   string
	oauth    *oauth2.Config
	client   *http.Client
	endpoint string
	authCode string // authorization code this instance is bound to
}

var _ provider.IdentityProvider = (*Provider)(nil)

// New creates a Provider from the project credentials.
func New(cfg Config) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleoauth.Endpoint,
		},
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: defaultEndpoint,
	}
}

// NewForTest creates a Provider pointed at a stub Identity Toolkit server.
func NewForTest(cfg Config, endpoint string, client *http.Client) *Provider {
	p := New(cfg)
	p.endpoint = endpoint
	if client != nil {
		p.client = client
	}
	return p
}

// AuthURL returns the consent-page URL the browser is redirected to. The
// state parameter is the caller's CSRF token, verified at the callback.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// WithAuthCode returns a copy of the provider bound to the authorization
// code a callback request delivered. The copy is request-scoped; the base
// provider stays code-free and reusable.
func (p *Provider) WithAuthCode(code string) *Provider {
	bound := *p
	bound.authCode = code
	return &bound
}

// SignInPopup completes the federated handshake for the bound authorization
// code: OAuth code exchange, then accounts:signInWithIdp.
//
// When the email already belongs to an account with different credentials,
// the API answers 200 with needConfirmation=true and a pendingToken; that
// becomes the classified conflict error carrying the pending credential.
func (p *Provider) SignInPopup(ctx context.Context, tag provider.Tag) (*provider.Identity, error) {
	if tag != provider.TagGoogle {
		return nil, provider.Errorf(provider.CodeUnsupported, "provider %s is not configured", tag)
	}
	if p.authCode == "" {
		return nil, provider.Errorf(provider.CodeProviderError, "no authorization code bound to this handshake")
	}

	token, err := p.oauth.Exchange(ctx, p.authCode)
	if err != nil {
		return nil, provider.Errorf(provider.CodeProviderError, "exchanging authorization code: %v", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, provider.Errorf(provider.CodeProviderError, "google token response carried no id_token")
	}

	var resp signInWithIdpResponse
	err = p.post(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            "id_token=" + url.QueryEscape(idToken) + "&providerId=" + string(provider.TagGoogle),
		"requestUri":          p.oauth.RedirectURL,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.NeedConfirmation {
		return nil, &provider.Error{
			Code:    provider.CodeAccountExists,
			Message: "an account already exists with the same email address but different sign-in credentials",
			Email:   resp.Email,
			Pending: pendingFromToken(resp.PendingToken),
		}
	}

	return resp.identity(), nil
}

// SignInRedirect cannot be started from the server; the redirect handshake
// belongs to the browser.
func (p *Provider) SignInRedirect(ctx context.Context, tag provider.Tag) error {
	return provider.Errorf(provider.CodeUnsupported, "redirect sign-in is driven by the browser, not the gateway")
}

// RedirectResult reports no pending redirect: a server-bound provider never
// parks one. Redirect outcomes arrive through the session endpoint instead.
func (p *Provider) RedirectResult(ctx context.Context) (*provider.Identity, error) {
	return nil, nil
}

// SignInWithPassword authenticates via accounts:signInWithPassword.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*provider.Identity, error) {
	var resp passwordResponse
	err := p.post(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.identity(provider.TagPassword), nil
}

// SignUpWithPassword creates a password account via accounts:signUp.
func (p *Provider) SignUpWithPassword(ctx context.Context, email, password string) (*provider.Identity, error) {
	var resp passwordResponse
	err := p.post(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.identity(provider.TagPassword), nil
}

// LinkCredential attaches a pending federated credential to a signed-in
// account: accounts:signInWithIdp with the account's ID token plus the
// pendingToken from the conflict.
func (p *Provider) LinkCredential(ctx context.Context, identity *provider.Identity, pending *provider.PendingCredential) (*provider.Identity, error) {
	if identity == nil || identity.IDToken == "" {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "linking requires a signed-in identity")
	}
	if pending == nil || pending.Token == "" {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "linking requires a pending credential")
	}

	var resp signInWithIdpResponse
	err := p.post(ctx, "accounts:signInWithIdp", map[string]any{
		"idToken":             identity.IDToken,
		"pendingToken":        pending.Token,
		"requestUri":          p.oauth.RedirectURL,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	linked := resp.identity()
	linked.Providers = appendTag(identity.Providers, pending.Provider)
	return linked, nil
}

// SignInMethods lists the registered sign-in methods for an email via
// accounts:createAuthUri.
func (p *Provider) SignInMethods(ctx context.Context, email string) ([]provider.Tag, error) {
	var resp struct {
		SigninMethods []string `json:"signinMethods"`
	}
	err := p.post(ctx, "accounts:createAuthUri", map[string]any{
		"identifier":  email,
		"continueUri": p.oauth.RedirectURL,
	}, &resp)
	if err != nil {
		return nil, err
	}

	methods := make([]provider.Tag, 0, len(resp.SigninMethods))
	for _, m := range resp.SigninMethods {
		methods = append(methods, provider.Tag(m))
	}
	return methods, nil
}

// LookupToken resolves an ID token to its account via accounts:lookup. This
// delegates token verification to Google — exactly what the session endpoint
// wants.
func (p *Provider) LookupToken(ctx context.Context, idToken string) (*provider.Identity, error) {
	var resp struct {
		Users []struct {
			LocalID          string `json:"localId"`
			Email            string `json:"email"`
			DisplayName      string `json:"displayName"`
			PhotoURL         string `json:"photoUrl"`
			ProviderUserInfo []struct {
				ProviderID string `json:"providerId"`
			} `json:"providerUserInfo"`
		} `json:"users"`
	}
	err := p.post(ctx, "accounts:lookup", map[string]any{"idToken": idToken}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "token resolves to no account")
	}

	u := resp.Users[0]
	id := &provider.Identity{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		IDToken:     idToken,
	}
	for _, info := range u.ProviderUserInfo {
		id.Providers = append(id.Providers, provider.Tag(info.ProviderID))
	}
	return id, nil
}

// post sends one Identity Toolkit call and decodes the response, translating
// the API's error envelope into a classified provider error.
func (p *Provider) post(ctx context.Context, method string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Errorf(provider.CodeProviderError, "encoding %s request: %v", method, err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", p.endpoint, method, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return provider.Errorf(provider.CodeProviderError, "building %s request: %v", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Errorf(provider.CodeProviderError, "calling %s: %v", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return provider.Errorf(provider.CodeProviderError, "%s returned status %d", method, resp.StatusCode)
		}
		return classify(envelope.Error.Message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Errorf(provider.CodeProviderError, "decoding %s response: %v", method, err)
	}
	return nil
}

// classify maps Identity Toolkit error messages to the provider taxonomy.
// The API reports reasons as upper-snake tokens, sometimes with a trailing
// detail after " : ".
func classify(message string) error {
	reason, _, _ := strings.Cut(message, " ")
	switch strings.TrimSpace(reason) {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS",
		"INVALID_ID_TOKEN", "USER_DISABLED", "INVALID_PENDING_TOKEN":
		return provider.Errorf(provider.CodeInvalidCredentials, "%s", message)
	case "EMAIL_EXISTS":
		return provider.Errorf(provider.CodeProviderError, "email already in use")
	default:
		return provider.Errorf(provider.CodeProviderError, "%s", message)
	}
}

// signInWithIdpResponse is the subset of the accounts:signInWithIdp response
// the gateway consumes.
type signInWithIdpResponse struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	PhotoURL         string `json:"photoUrl"`
	IDToken          string `json:"idToken"`
	ProviderID       string `json:"providerId"`
	NeedConfirmation bool   `json:"needConfirmation"`
	PendingToken     string `json:"pendingToken"`
}

func (r *signInWithIdpResponse) identity() *provider.Identity {
	tag := provider.Tag(r.ProviderID)
	if tag == "" {
		tag = provider.TagGoogle
	}
	return &provider.Identity{
		UID:         r.LocalID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		PhotoURL:    r.PhotoURL,
		Providers:   []provider.Tag{tag},
		IDToken:     r.IDToken,
	}
}

type passwordResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
}

func (r *passwordResponse) identity(tag provider.Tag) *provider.Identity {
	return &provider.Identity{
		UID:         r.LocalID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Providers:   []provider.Tag{tag},
		IDToken:     r.IDToken,
	}
}

func pendingFromToken(token string) *provider.PendingCredential {
	if token == "" {
		return nil
	}
	return &provider.PendingCredential{Provider: provider.TagGoogle, Token: token}
}

func appendTag(tags []provider.Tag, want provider.Tag) []provider.Tag {
	for _, t := range tags {
		if t == want {
			return tags
		}
	}
	return append(append([]provider.Tag{}, tags...), want)
}

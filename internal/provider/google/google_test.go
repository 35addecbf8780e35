package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hndang/authbridge/internal/provider"
)

// newStubToolkit returns a provider pointed at an httptest server that
// dispatches on the Identity Toolkit method name in the URL path. handlers is
// keyed by method, e.g. "accounts:signInWithPassword".
func newStubToolkit(t *testing.T, handlers map[string]http.HandlerFunc) *Provider {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		h, ok := handlers[method]
		if !ok {
			t.Errorf("unexpected Identity Toolkit call: %s", method)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewForTest(Config{
		APIKey:      "test-key",
		ClientID:    "client-id",
		CallbackURL: "http://localhost/auth/google/callback",
	}, srv.URL, srv.Client())
}

func apiError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message},
	})
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
	return body
}

// =========================================================================
// PASSWORD ENDPOINTS
// =========================================================================

func TestSignInWithPassword(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:signInWithPassword": func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			if body["email"] != "a@b.com" || body["password"] != "secret123" {
				t.Errorf("request body = %v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-1",
				"email":   "a@b.com",
				"idToken": "tok-1",
			})
		},
	})

	id, err := p.SignInWithPassword(context.Background(), "a@b.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword() error = %v", err)
	}
	if id.UID != "uid-1" || id.IDToken != "tok-1" {
		t.Errorf("identity = %+v", id)
	}
	if !id.HasProvider(provider.TagPassword) {
		t.Errorf("Providers = %v, want password", id.Providers)
	}
}

func TestSignInWithPassword_WrongPassword(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:signInWithPassword": func(w http.ResponseWriter, r *http.Request) {
			apiError(w, http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS")
		},
	})

	_, err := p.SignInWithPassword(context.Background(), "a@b.com", "wrong")
	if provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("error = %v, want invalid-credentials", err)
	}
}

func TestSignUpWithPassword_EmailTaken(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:signUp": func(w http.ResponseWriter, r *http.Request) {
			apiError(w, http.StatusBadRequest, "EMAIL_EXISTS")
		},
	})

	_, err := p.SignUpWithPassword(context.Background(), "taken@b.com", "secret123")
	if provider.CodeOf(err) != provider.CodeProviderError {
		t.Fatalf("error = %v, want provider error", err)
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Errorf("error message = %q, want a user-safe message", err.Error())
	}
}

// =========================================================================
// LINKING AND METHOD LOOKUP
// =========================================================================

func TestLinkCredential(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:signInWithIdp": func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			if body["idToken"] != "owner-token" || body["pendingToken"] != "pending-1" {
				t.Errorf("request body = %v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId":    "uid-2",
				"email":      "shared@b.com",
				"idToken":    "tok-2",
				"providerId": "google.com",
			})
		},
	})

	owner := &provider.Identity{
		UID:       "uid-2",
		IDToken:   "owner-token",
		Providers: []provider.Tag{provider.TagPassword},
	}
	pending := &provider.PendingCredential{Provider: provider.TagGoogle, Token: "pending-1"}

	linked, err := p.LinkCredential(context.Background(), owner, pending)
	if err != nil {
		t.Fatalf("LinkCredential() error = %v", err)
	}
	if linked.UID != "uid-2" {
		t.Errorf("UID = %q, want uid-2", linked.UID)
	}
	if !linked.HasProvider(provider.TagPassword) || !linked.HasProvider(provider.TagGoogle) {
		t.Errorf("Providers = %v, want both methods", linked.Providers)
	}
}

func TestLinkCredential_Validation(t *testing.T) {
	p := newStubToolkit(t, nil)
	pending := &provider.PendingCredential{Provider: provider.TagGoogle, Token: "pt"}

	if _, err := p.LinkCredential(context.Background(), nil, pending); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("nil identity: error = %v, want invalid-credentials", err)
	}
	owner := &provider.Identity{UID: "u", IDToken: "tok"}
	if _, err := p.LinkCredential(context.Background(), owner, nil); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("nil pending: error = %v, want invalid-credentials", err)
	}
}

func TestSignInMethods(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:createAuthUri": func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			if body["identifier"] != "shared@b.com" {
				t.Errorf("identifier = %v", body["identifier"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"signinMethods": []string{"password", "google.com"},
			})
		},
	})

	methods, err := p.SignInMethods(context.Background(), "shared@b.com")
	if err != nil {
		t.Fatalf("SignInMethods() error = %v", err)
	}
	if len(methods) != 2 || methods[0] != provider.TagPassword || methods[1] != provider.TagGoogle {
		t.Errorf("methods = %v, want [password google.com]", methods)
	}
}

// =========================================================================
// TOKEN LOOKUP AND SERVER-BOUND BEHAVIOR
// =========================================================================

func TestLookupToken(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:lookup": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"users": []map[string]any{{
					"localId":     "uid-3",
					"email":       "tok@b.com",
					"displayName": "Tok",
					"providerUserInfo": []map[string]any{
						{"providerId": "google.com"},
					},
				}},
			})
		},
	})

	id, err := p.LookupToken(context.Background(), "some-token")
	if err != nil {
		t.Fatalf("LookupToken() error = %v", err)
	}
	if id.UID != "uid-3" || id.IDToken != "some-token" {
		t.Errorf("identity = %+v", id)
	}
	if !id.HasProvider(provider.TagGoogle) {
		t.Errorf("Providers = %v, want google.com", id.Providers)
	}
}

func TestLookupToken_NoAccount(t *testing.T) {
	p := newStubToolkit(t, map[string]http.HandlerFunc{
		"accounts:lookup": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"users": []any{}})
		},
	})

	_, err := p.LookupToken(context.Background(), "ghost-token")
	if provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("error = %v, want invalid-credentials", err)
	}
}

func TestServerBoundRedirect(t *testing.T) {
	p := newStubToolkit(t, nil)

	if err := p.SignInRedirect(context.Background(), provider.TagGoogle); provider.CodeOf(err) != provider.CodeUnsupported {
		t.Errorf("SignInRedirect error = %v, want operation-unsupported", err)
	}
	id, err := p.RedirectResult(context.Background())
	if err != nil || id != nil {
		t.Errorf("RedirectResult = (%v, %v), want (nil, nil)", id, err)
	}
}

// =========================================================================
// ERROR CLASSIFICATION
// =========================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    provider.Code
	}{
		{"EMAIL_NOT_FOUND", provider.CodeInvalidCredentials},
		{"INVALID_PASSWORD", provider.CodeInvalidCredentials},
		{"INVALID_LOGIN_CREDENTIALS", provider.CodeInvalidCredentials},
		{"USER_DISABLED : The user account has been disabled.", provider.CodeInvalidCredentials},
		{"INVALID_PENDING_TOKEN", provider.CodeInvalidCredentials},
		{"EMAIL_EXISTS", provider.CodeProviderError},
		{"QUOTA_EXCEEDED : Exceeded quota.", provider.CodeProviderError},
	}
	for _, tt := range tests {
		if got := provider.CodeOf(classify(tt.message)); got != tt.want {
			t.Errorf("classify(%q) code = %q, want %q", tt.message, got, tt.want)
		}
	}
}

package local

import (
	"context"
	"testing"

	"github.com/hndang/authbridge/internal/auth"
	"github.com/hndang/authbridge/internal/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	// Cost 4 is bcrypt minimum — makes tests fast
	return New(auth.NewPasswordServiceForTest(4), tokens)
}

func googleProfile(email string) FederatedProfile {
	return FederatedProfile{
		Email:       email,
		DisplayName: "Google User",
		PhotoURL:    "https://example.com/p.png",
	}
}

// =========================================================================
// FEDERATED SIGN-IN
// =========================================================================

func TestSignInPopup_CreatesAccount(t *testing.T) {
	p := newTestProvider(t)
	p.EnqueueFederated(googleProfile("new@example.com"))

	id, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if err != nil {
		t.Fatalf("SignInPopup() error = %v", err)
	}
	if id.Email != "new@example.com" {
		t.Errorf("Email = %q, want new@example.com", id.Email)
	}
	if !id.HasProvider(provider.TagGoogle) {
		t.Errorf("Providers = %v, want google.com linked", id.Providers)
	}
	if id.IDToken == "" {
		t.Error("IDToken is empty")
	}
}

func TestSignInPopup_SameAccountTwice(t *testing.T) {
	p := newTestProvider(t)
	p.EnqueueFederated(googleProfile("repeat@example.com"))
	p.EnqueueFederated(googleProfile("repeat@example.com"))

	first, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	second, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	// UID is stable across sign-ins.
	if first.UID != second.UID {
		t.Errorf("UID changed between sign-ins: %q -> %q", first.UID, second.UID)
	}
}

func TestSignInPopup_NothingStaged(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if provider.CodeOf(err) != provider.CodeProviderError {
		t.Errorf("error = %v, want a provider error for an empty queue", err)
	}
}

func TestSignInPopup_Blocked(t *testing.T) {
	p := newTestProvider(t)
	p.EnqueueFederated(googleProfile("blocked@example.com"))
	p.SetPopupBlocked(true)

	_, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if provider.CodeOf(err) != provider.CodePopupBlocked {
		t.Fatalf("error = %v, want popup-blocked", err)
	}

	// The staged profile is still queued: the redirect fallback consumes it.
	if rerr := p.SignInRedirect(context.Background(), provider.TagGoogle); rerr != nil {
		t.Fatalf("SignInRedirect() error = %v", rerr)
	}
	id, err := p.RedirectResult(context.Background())
	if err != nil {
		t.Fatalf("RedirectResult() error = %v", err)
	}
	if id == nil || id.Email != "blocked@example.com" {
		t.Errorf("redirect identity = %+v, want the staged profile", id)
	}
}

func TestRedirectResult_NonePending(t *testing.T) {
	p := newTestProvider(t)

	id, err := p.RedirectResult(context.Background())
	if err != nil {
		t.Fatalf("RedirectResult() error = %v", err)
	}
	if id != nil {
		t.Errorf("identity = %+v, want nil when no redirect is pending", id)
	}
}

func TestRedirectResult_ConsumedOnce(t *testing.T) {
	p := newTestProvider(t)
	p.EnqueueFederated(googleProfile("once@example.com"))

	if err := p.SignInRedirect(context.Background(), provider.TagGoogle); err != nil {
		t.Fatalf("SignInRedirect() error = %v", err)
	}
	if id, _ := p.RedirectResult(context.Background()); id == nil {
		t.Fatal("first RedirectResult returned nil")
	}
	if id, _ := p.RedirectResult(context.Background()); id != nil {
		t.Errorf("second RedirectResult = %+v, want nil — the slot is single-use", id)
	}
}

// =========================================================================
// COLLISIONS AND LINKING
// =========================================================================

func TestSignInPopup_CollisionWithPasswordAccount(t *testing.T) {
	p := newTestProvider(t)
	seeded, err := p.SeedPassword("shared@example.com", "secret123", "Existing User")
	if err != nil {
		t.Fatalf("SeedPassword: %v", err)
	}

	p.EnqueueFederated(googleProfile("shared@example.com"))
	_, err = p.SignInPopup(context.Background(), provider.TagGoogle)

	perr := provider.AsError(err)
	if perr == nil || perr.Code != provider.CodeAccountExists {
		t.Fatalf("error = %v, want account-exists conflict", err)
	}
	if perr.Email != "shared@example.com" {
		t.Errorf("conflict email = %q, want shared@example.com", perr.Email)
	}
	if perr.Pending == nil || perr.Pending.Token == "" {
		t.Fatal("conflict carries no pending credential")
	}
	if perr.Pending.Provider != provider.TagGoogle {
		t.Errorf("pending provider = %q, want google.com", perr.Pending.Provider)
	}

	// Complete the link the way the reconciliation flow would.
	owner, err := p.SignInWithPassword(context.Background(), "shared@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if owner.UID != seeded.UID {
		t.Errorf("owner UID = %q, want the seeded account %q", owner.UID, seeded.UID)
	}

	linked, err := p.LinkCredential(context.Background(), owner, perr.Pending)
	if err != nil {
		t.Fatalf("LinkCredential: %v", err)
	}
	if linked.UID != seeded.UID {
		t.Errorf("linked UID = %q, want %q — linking must not mint a new account", linked.UID, seeded.UID)
	}
	if !linked.HasProvider(provider.TagPassword) || !linked.HasProvider(provider.TagGoogle) {
		t.Errorf("Providers = %v, want both methods linked", linked.Providers)
	}

	// After linking, the same federated profile signs straight in.
	p.EnqueueFederated(googleProfile("shared@example.com"))
	again, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	if err != nil {
		t.Fatalf("post-link federated sign-in: %v", err)
	}
	if again.UID != seeded.UID {
		t.Errorf("post-link UID = %q, want %q", again.UID, seeded.UID)
	}
}

func TestLinkCredential_TokenSingleUse(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.SeedPassword("shared@example.com", "secret123", ""); err != nil {
		t.Fatalf("SeedPassword: %v", err)
	}
	p.EnqueueFederated(googleProfile("shared@example.com"))
	_, err := p.SignInPopup(context.Background(), provider.TagGoogle)
	perr := provider.AsError(err)
	if perr == nil || perr.Pending == nil {
		t.Fatalf("expected conflict with pending credential, got %v", err)
	}

	owner, err := p.SignInWithPassword(context.Background(), "shared@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if _, err := p.LinkCredential(context.Background(), owner, perr.Pending); err != nil {
		t.Fatalf("first link: %v", err)
	}
	if _, err := p.LinkCredential(context.Background(), owner, perr.Pending); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("second link error = %v, want invalid-credentials", err)
	}
}

// =========================================================================
// PASSWORD ACCOUNTS AND METHOD LOOKUP
// =========================================================================

func TestSignUpAndSignInWithPassword(t *testing.T) {
	p := newTestProvider(t)

	created, err := p.SignUpWithPassword(context.Background(), "pw@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignUpWithPassword() error = %v", err)
	}
	if !created.HasProvider(provider.TagPassword) {
		t.Errorf("Providers = %v, want password", created.Providers)
	}

	if _, err := p.SignUpWithPassword(context.Background(), "pw@example.com", "other"); provider.CodeOf(err) != provider.CodeProviderError {
		t.Errorf("duplicate sign-up error = %v, want provider error", err)
	}

	signed, err := p.SignInWithPassword(context.Background(), "pw@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithPassword() error = %v", err)
	}
	if signed.UID != created.UID {
		t.Errorf("UID = %q, want %q", signed.UID, created.UID)
	}

	if _, err := p.SignInWithPassword(context.Background(), "pw@example.com", "wrong"); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("wrong password error = %v, want invalid-credentials", err)
	}
	if _, err := p.SignInWithPassword(context.Background(), "nobody@example.com", "x"); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("unknown email error = %v, want invalid-credentials", err)
	}
}

func TestSignInMethods(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.SeedPassword("pw@example.com", "secret123", ""); err != nil {
		t.Fatalf("SeedPassword: %v", err)
	}

	methods, err := p.SignInMethods(context.Background(), "pw@example.com")
	if err != nil {
		t.Fatalf("SignInMethods() error = %v", err)
	}
	if len(methods) != 1 || methods[0] != provider.TagPassword {
		t.Errorf("methods = %v, want [password]", methods)
	}

	// Unknown email is not an error — it simply has no methods.
	methods, err = p.SignInMethods(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("SignInMethods(unknown) error = %v", err)
	}
	if len(methods) != 0 {
		t.Errorf("methods = %v, want none", methods)
	}
}

// =========================================================================
// TOKEN LOOKUP
// =========================================================================

func TestLookupToken(t *testing.T) {
	p := newTestProvider(t)
	id, err := p.SeedPassword("tok@example.com", "secret123", "Tok")
	if err != nil {
		t.Fatalf("SeedPassword: %v", err)
	}

	resolved, err := p.LookupToken(context.Background(), id.IDToken)
	if err != nil {
		t.Fatalf("LookupToken() error = %v", err)
	}
	if resolved.UID != id.UID {
		t.Errorf("UID = %q, want %q", resolved.UID, id.UID)
	}

	if _, err := p.LookupToken(context.Background(), "not-a-token"); provider.CodeOf(err) != provider.CodeInvalidCredentials {
		t.Errorf("garbage token error = %v, want invalid-credentials", err)
	}
}

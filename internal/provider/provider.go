// Package provider defines the contract between the reconciliation flow and
// the identity provider that actually verifies credentials.
//
// The flow never talks to a concrete provider directly — it receives an
// IdentityProvider and makes decisions purely on the normalized types below.
// Implementations return identity facts; they do not create sessions, write
// profiles, or decide how a credential collision is resolved. All of that
// lives in internal/service.
package provider

import "context"

// Tag identifies one sign-in method registered to an account.
//
// The values match what the upstream identity APIs report, so a Tag can be
// compared directly against the method list returned by SignInMethods.
type Tag string

const (
	// TagPassword is the email + password method.
	TagPassword Tag = "password"

	// TagGoogle is federated sign-in through a Google account.
	TagGoogle Tag = "google.com"
)

// Identity is the authenticated principal as reported by the provider.
//
// UID is opaque and stable: it is assigned when the provider first creates the
// account and never changes afterwards, even when additional sign-in methods
// are linked. Email is the join key for collision detection but may be absent
// for some provider types, so callers must not assume it is set.
//
// IDToken is the short-lived token issued for this sign-in. The session layer
// exchanges it for an application session; this package only carries it.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Providers   []Tag // sign-in methods currently linked to the account
	IDToken     string
}

// HasProvider reports whether the given method is linked to this identity.
func (id *Identity) HasProvider(tag Tag) bool {
	for _, t := range id.Providers {
		if t == tag {
			return true
		}
	}
	return false
}

// PendingCredential is proof of a federated handshake that completed at the
// provider but could not be attached to an account — typically because the
// email already belongs to an account with a different sign-in method.
//
// It is produced inside the conflict error, consumed once by LinkCredential,
// and worthless afterwards. The Token is opaque to this application.
type PendingCredential struct {
	Provider Tag
	Token    string
}

// IdentityProvider is the capability set the reconciliation flow needs from
// an identity provider. Every call is terminal: implementations must not
// retry internally, so a returned error reflects exactly one attempt.
type IdentityProvider interface {
	// SignInPopup runs the interactive federated handshake for the given
	// provider tag. Failure modes the flow cares about are reported as
	// *Error values: CodePopupBlocked and CodeAccountExists in particular.
	SignInPopup(ctx context.Context, tag Tag) (*Identity, error)

	// SignInRedirect starts the full-page redirect handshake. The result is
	// not available to this call — it is recovered later via RedirectResult,
	// after the surrounding page reloads.
	SignInRedirect(ctx context.Context, tag Tag) error

	// RedirectResult returns the identity from a previously started redirect
	// handshake, or (nil, nil) when no redirect is pending. The absence of a
	// pending redirect is the common case and is not an error.
	RedirectResult(ctx context.Context) (*Identity, error)

	// SignInWithPassword authenticates an email + password pair.
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// SignUpWithPassword creates a new password account and signs it in.
	SignUpWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// LinkCredential attaches a pending federated credential to the given
	// signed-in identity. On success the account authenticates through both
	// its original method and the newly linked one.
	LinkCredential(ctx context.Context, identity *Identity, pending *PendingCredential) (*Identity, error)

	// SignInMethods lists the sign-in methods already registered for email.
	SignInMethods(ctx context.Context, email string) ([]Tag, error)

	// LookupToken resolves a provider-issued ID token back to its identity.
	// Token verification is the provider's responsibility, not ours.
	LookupToken(ctx context.Context, idToken string) (*Identity, error)
}

// Package service — authentication business logic.
//
// AuthService is the account reconciliation flow. It sits between the HTTP
// handlers and the two external authorities:
//
//	AuthHandler (HTTP) → AuthService (decisions) → provider.IdentityProvider
//	                                             → store.DocumentStore
//
// KEY RESPONSIBILITIES:
//   - Run the federated sign-in handshake and settle it into an Identity
//   - Detect credential collisions and resolve them by linking the pending
//     federated credential to the pre-existing password account
//   - Mirror every settled identity into a profile record (merge semantics)
//
// Everything here is driven through injected collaborators, so the whole
// flow runs unchanged against the hosted provider, the local provider, or
// the test fakes.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hndang/authbridge/internal/apperror"
	"github.com/hndang/authbridge/internal/model"
	"github.com/hndang/authbridge/internal/provider"
	"github.com/hndang/authbridge/internal/store"
)

// CredentialPrompter supplies the password for a conflicting email during
// reconciliation, out of band of the flow itself.
//
// An empty password or an error both mean the user declined — the flow then
// abandons reconciliation and re-propagates the original conflict, adding
// nothing. There is no timeout here: an unanswered prompt simply never
// returns, and cancellation arrives through ctx.
type CredentialPrompter interface {
	PromptPassword(ctx context.Context, email string) (string, error)
}

// PrompterFunc adapts a plain function to CredentialPrompter.
type PrompterFunc func(ctx context.Context, email string) (string, error)

func (f PrompterFunc) PromptPassword(ctx context.Context, email string) (string, error) {
	return f(ctx, email)
}

// NoPrompt is a CredentialPrompter that always declines. The web callback
// uses it: a browser request cannot block on user input, so a conflict there
// surfaces to the UI, which completes linking with a second request.
var NoPrompt = PrompterFunc(func(ctx context.Context, email string) (string, error) {
	return "", nil
})

// SignInResult is the settled outcome of a sign-in operation.
//
// Exactly one of the two shapes occurs:
//   - Identity set, Redirected false: the sign-in completed.
//   - Identity nil, Redirected true: the popup was blocked and a full-page
//     redirect handshake was started instead. The real result arrives later,
//     through ResumeRedirectSignIn, after the page reloads.
type SignInResult struct {
	Identity   *provider.Identity
	Redirected bool
}

// AuthService orchestrates sign-in, conflict reconciliation, and the profile
// mirror. All dependencies are injected via NewAuthService.
type AuthService struct {
	idp      provider.IdentityProvider
	docs     store.DocumentStore
	prompter CredentialPrompter
	tag      provider.Tag // which federated provider this flow signs in with
	logger   *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
// A nil prompter is treated as NoPrompt.
func NewAuthService(
	idp provider.IdentityProvider,
	docs store.DocumentStore,
	prompter CredentialPrompter,
	tag provider.Tag,
	logger *slog.Logger,
) *AuthService {
	if prompter == nil {
		prompter = NoPrompt
	}
	return &AuthService{
		idp:      idp,
		docs:     docs,
		prompter: prompter,
		tag:      tag,
		logger:   logger,
	}
}

// WithPrompter returns a copy of the service using the given prompter.
// Handlers use this to bind a request-scoped password source without
// rebuilding the rest of the dependency graph.
func (s *AuthService) WithPrompter(p CredentialPrompter) *AuthService {
	clone := *s
	if p == nil {
		p = NoPrompt
	}
	clone.prompter = p
	return &clone
}

// WithProvider returns a copy of the service using the given identity
// provider. The hosted provider is bound to the authorization code of one
// callback request, so the handler derives a request-scoped service from the
// shared one.
func (s *AuthService) WithProvider(idp provider.IdentityProvider) *AuthService {
	clone := *s
	clone.idp = idp
	return &clone
}

// SignInWithFederatedProvider runs the federated sign-in flow end to end.
//
// The happy path is popup → profile upsert → settled identity. Two failures
// are recovered locally:
//
//   - popup blocked: fall back to the redirect handshake and return the
//     Redirected sentinel. No profile write happens yet — the result is
//     picked up by ResumeRedirectSignIn after the reload.
//   - account exists with a different credential: attempt reconciliation
//     (see reconcile). If reconciliation is impossible or abandoned, the
//     ORIGINAL conflict error comes back unchanged.
//
// Every other provider failure propagates verbatim; the caller renders the
// provider-supplied message.
//
// A non-nil result together with a non-nil error means the sign-in settled
// but the profile mirror failed (apperror.ErrProfileWrite). Authentication
// is authoritative — callers keep the session and deal with the mirror
// failure separately.
func (s *AuthService) SignInWithFederatedProvider(ctx context.Context) (*SignInResult, error) {
	id, err := s.idp.SignInPopup(ctx, s.tag)
	if err == nil {
		return s.settle(ctx, id)
	}

	switch provider.CodeOf(err) {
	case provider.CodePopupBlocked:
		// Recovered locally: hand the handshake to a full-page redirect.
		// The current call cannot observe the outcome.
		if rerr := s.idp.SignInRedirect(ctx, s.tag); rerr != nil {
			return nil, rerr
		}
		s.logger.Info("popup blocked, redirect handshake started",
			slog.String("provider", string(s.tag)),
		)
		return &SignInResult{Redirected: true}, nil

	case provider.CodeAccountExists:
		return s.reconcile(ctx, err)

	default:
		return nil, err
	}
}

// ResumeRedirectSignIn picks up the result of a redirect handshake started by
// an earlier SignInWithFederatedProvider call. It is called once at page
// load.
//
// No pending redirect is the common case and returns (nil, nil) — distinct
// from a failure, and guaranteed to touch the store zero times.
func (s *AuthService) ResumeRedirectSignIn(ctx context.Context) (*SignInResult, error) {
	id, err := s.idp.RedirectResult(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	return s.settle(ctx, id)
}

// reconcile is the conflict branch: the email from the failed federated
// attempt already owns an account under a different sign-in method.
//
// POLICY — only password accounts are bridged. If the email's registered
// methods include password, we ask for the password, sign in as the existing
// account, attach the pending federated credential to it, and settle with
// that identity. Any other owning method (federated-to-federated linking) is
// deliberately unsupported: the original conflict is re-propagated with no
// further provider calls and nothing added.
func (s *AuthService) reconcile(ctx context.Context, conflict error) (*SignInResult, error) {
	perr := provider.AsError(conflict)
	if perr == nil || perr.Email == "" || perr.Pending == nil {
		// Cannot reconcile without both the email and the pending
		// credential — surface the conflict untouched.
		return nil, conflict
	}

	methods, err := s.idp.SignInMethods(ctx, perr.Email)
	if err != nil {
		return nil, err
	}

	if !hasTag(methods, provider.TagPassword) {
		return nil, conflict
	}

	password, err := s.prompter.PromptPassword(ctx, perr.Email)
	if err != nil || password == "" {
		// Abandoned. The caller learns nothing beyond the original
		// conflict.
		return nil, conflict
	}

	return s.LinkWithPassword(ctx, perr.Email, password, perr.Pending)
}

// LinkWithPassword authenticates the pre-existing password account and
// attaches the pending federated credential to it. After this, the account
// signs in through either method and exactly one identity survives for the
// email.
//
// This is the shared tail of reconciliation: the prompter-driven flow lands
// here, and so does the HTTP link endpoint once the UI has collected the
// password itself.
func (s *AuthService) LinkWithPassword(ctx context.Context, email, password string, pending *provider.PendingCredential) (*SignInResult, error) {
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if pending == nil {
		return nil, apperror.ValidationFailed("pendingCredential", "no federated credential to link")
	}

	owner, err := s.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	linked, err := s.idp.LinkCredential(ctx, owner, pending)
	if err != nil {
		return nil, err
	}

	s.logger.Info("federated credential linked to existing account",
		slog.String("uid", linked.UID),
		slog.String("provider", string(pending.Provider)),
	)

	return s.settle(ctx, linked)
}

// settle mirrors the identity into the profile store and wraps it as the
// flow's result. A mirror failure does not undo the sign-in: the result is
// returned alongside the error.
func (s *AuthService) settle(ctx context.Context, id *provider.Identity) (*SignInResult, error) {
	res := &SignInResult{Identity: id}
	if err := s.ensureProfile(ctx, id); err != nil {
		s.logger.Error("profile upsert failed after settled sign-in",
			slog.String("uid", id.UID),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	s.logger.Info("sign-in settled",
		slog.String("uid", id.UID),
		slog.String("provider", string(s.tag)),
	)
	return res, nil
}

// ensureProfile performs the profile upsert: one read, one write, no retry.
//
// First sign-in for a UID creates the full record with creation and
// last-updated timestamps both set to now. Every later sign-in issues a merge
// write touching only the last-updated timestamp and the photo URL, so
// fields added to the record elsewhere survive.
func (s *AuthService) ensureProfile(ctx context.Context, id *provider.Identity) error {
	now := time.Now()

	_, err := s.docs.Get(ctx, model.Collection, id.UID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		if werr := s.docs.Set(ctx, model.Collection, id.UID, model.NewDocument(id, now), false); werr != nil {
			return apperror.ProfileWrite(werr)
		}
	case err != nil:
		return apperror.ProfileWrite(err)
	default:
		if werr := s.docs.Set(ctx, model.Collection, id.UID, model.MergeDocument(id, now), true); werr != nil {
			return apperror.ProfileWrite(werr)
		}
	}
	return nil
}

func hasTag(tags []provider.Tag, want provider.Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

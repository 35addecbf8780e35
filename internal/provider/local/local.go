// Package local is an in-process identity provider.
//
// It implements the full provider contract against in-memory state: bcrypt
// password accounts, federated sign-ins fed from a staged queue, credential
// collisions with real pending credentials, linking, and a pending-redirect
// slot so the popup-blocked fallback can be driven end to end.
//
// It exists for two reasons. In development the gateway runs against it with
// no Google project configured. In tests it is the realistic double: the
// reconciliation flow exercises the same collision and linking behavior the
// hosted provider exhibits, without any network.
//
// Federated sign-ins are staged rather than interactive: EnqueueFederated
// declares who the "browser user" is, and the next popup or redirect
// handshake presents that profile to the provider.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/hndang/authbridge/internal/auth"
	"github.com/hndang/authbridge/internal/provider"
)

// idTokenLifetime matches the short-lived ID tokens hosted providers issue.
const idTokenLifetime = time.Hour

// FederatedProfile is the claim set a federated handshake delivers.
type FederatedProfile struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// account is one registered identity. Providers lists the linked sign-in
// methods; the UID never changes once assigned.
type account struct {
	uid          string
	email        string
	displayName  string
	photoURL     string
	passwordHash string
	providers    []provider.Tag
}

// Provider is the in-process identity provider. Safe for concurrent use.
type Provider struct {
	passwords *auth.PasswordService
	tokens    *auth.TokenService

	mu           sync.Mutex
	accounts     map[string]*account // by uid
	byEmail      map[string]string   // email → uid
	queue        []FederatedProfile  // staged federated sign-ins
	redirect     *FederatedProfile   // handshake parked by SignInRedirect
	popupBlocked bool
	pending      map[string]pendingLink // pending-credential token → what to link
}

type pendingLink struct {
	tag     provider.Tag
	profile FederatedProfile
}

var _ provider.IdentityProvider = (*Provider)(nil)

// New creates an empty local provider.
func New(passwords *auth.PasswordService, tokens *auth.TokenService) *Provider {
	return &Provider{
		passwords: passwords,
		tokens:    tokens,
		accounts:  make(map[string]*account),
		byEmail:   make(map[string]string),
		pending:   make(map[string]pendingLink),
	}
}

// EnqueueFederated stages the profile the next federated handshake presents.
func (p *Provider) EnqueueFederated(fp FederatedProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, fp)
}

// SetPopupBlocked makes subsequent popup handshakes fail with the
// popup-blocked code, forcing the redirect fallback.
func (p *Provider) SetPopupBlocked(blocked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popupBlocked = blocked
}

// SeedPassword registers a password account directly — dev/demo fixture data
// and the pre-existing account in linking tests.
func (p *Provider) SeedPassword(email, password, displayName string) (*provider.Identity, error) {
	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byEmail[email]; exists {
		return nil, provider.Errorf(provider.CodeProviderError, "email %s already registered", email)
	}

	acct := &account{
		uid:          xid.New().String(),
		email:        email,
		displayName:  displayName,
		passwordHash: hash,
		providers:    []provider.Tag{provider.TagPassword},
	}
	p.accounts[acct.uid] = acct
	p.byEmail[email] = acct.uid
	return p.identityLocked(acct)
}

// SignInPopup presents the next staged federated profile through the popup
// handshake.
func (p *Provider) SignInPopup(ctx context.Context, tag provider.Tag) (*provider.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.popupBlocked {
		return nil, provider.Errorf(provider.CodePopupBlocked, "popup window was blocked")
	}

	fp, err := p.dequeueLocked()
	if err != nil {
		return nil, err
	}
	return p.federatedSignInLocked(fp, tag)
}

// SignInRedirect parks the next staged federated profile until the page
// "reloads" and calls RedirectResult. Collisions are not evaluated here —
// they surface from RedirectResult, as they would after a real redirect.
func (p *Provider) SignInRedirect(ctx context.Context, tag provider.Tag) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fp, err := p.dequeueLocked()
	if err != nil {
		return err
	}
	p.redirect = &fp
	return nil
}

// RedirectResult consumes the parked redirect handshake, or returns
// (nil, nil) when none is pending.
func (p *Provider) RedirectResult(ctx context.Context) (*provider.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.redirect == nil {
		return nil, nil
	}
	fp := *p.redirect
	p.redirect = nil
	return p.federatedSignInLocked(fp, provider.TagGoogle)
}

// SignInWithPassword authenticates an email + password pair.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*provider.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.lookupEmailLocked(email)
	if acct == nil || acct.passwordHash == "" {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "invalid email or password")
	}
	if err := p.passwords.Verify(acct.passwordHash, password); err != nil {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "invalid email or password")
	}
	return p.identityLocked(acct)
}

// SignUpWithPassword creates a new password account.
func (p *Provider) SignUpWithPassword(ctx context.Context, email, password string) (*provider.Identity, error) {
	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, provider.Errorf(provider.CodeProviderError, "hashing password: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byEmail[email]; exists {
		return nil, provider.Errorf(provider.CodeProviderError, "email already in use")
	}

	acct := &account{
		uid:          xid.New().String(),
		email:        email,
		passwordHash: hash,
		providers:    []provider.Tag{provider.TagPassword},
	}
	p.accounts[acct.uid] = acct
	p.byEmail[email] = acct.uid
	return p.identityLocked(acct)
}

// LinkCredential attaches a pending federated credential to the signed-in
// account. The pending token is single-use.
func (p *Provider) LinkCredential(ctx context.Context, identity *provider.Identity, pending *provider.PendingCredential) (*provider.Identity, error) {
	if identity == nil || pending == nil {
		return nil, provider.Errorf(provider.CodeProviderError, "identity and pending credential are required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[identity.UID]
	if !ok {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "unknown account %s", identity.UID)
	}

	link, ok := p.pending[pending.Token]
	if !ok {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "pending credential is expired or already used")
	}
	delete(p.pending, pending.Token)

	if !hasTag(acct.providers, link.tag) {
		acct.providers = append(acct.providers, link.tag)
	}
	// The federated profile usually carries fresher display data.
	if acct.displayName == "" {
		acct.displayName = link.profile.DisplayName
	}
	if link.profile.PhotoURL != "" {
		acct.photoURL = link.profile.PhotoURL
	}

	return p.identityLocked(acct)
}

// SignInMethods lists the sign-in methods registered for email. An unknown
// email reports no methods rather than an error.
func (p *Provider) SignInMethods(ctx context.Context, email string) ([]provider.Tag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.lookupEmailLocked(email)
	if acct == nil {
		return nil, nil
	}
	methods := make([]provider.Tag, len(acct.providers))
	copy(methods, acct.providers)
	return methods, nil
}

// LookupToken resolves one of our ID tokens back to its account.
func (p *Provider) LookupToken(ctx context.Context, idToken string) (*provider.Identity, error) {
	uid, err := p.tokens.Validate(idToken)
	if err != nil {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "invalid ID token")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[uid]
	if !ok {
		return nil, provider.Errorf(provider.CodeInvalidCredentials, "unknown account %s", uid)
	}
	return p.identityLocked(acct)
}

// federatedSignInLocked settles a federated handshake against the account
// table. Three outcomes:
//   - the email already has this method linked → sign in that account
//   - the email belongs to an account under other methods → collision: mint
//     a pending credential and return the conflict error carrying it
//   - the email is unknown → create a fresh federated account
func (p *Provider) federatedSignInLocked(fp FederatedProfile, tag provider.Tag) (*provider.Identity, error) {
	if acct := p.lookupEmailLocked(fp.Email); acct != nil {
		if hasTag(acct.providers, tag) {
			if fp.PhotoURL != "" {
				acct.photoURL = fp.PhotoURL
			}
			return p.identityLocked(acct)
		}

		token := xid.New().String()
		p.pending[token] = pendingLink{tag: tag, profile: fp}
		return nil, &provider.Error{
			Code:    provider.CodeAccountExists,
			Message: "an account already exists with the same email address but different sign-in credentials",
			Email:   fp.Email,
			Pending: &provider.PendingCredential{Provider: tag, Token: token},
		}
	}

	acct := &account{
		uid:         xid.New().String(),
		email:       fp.Email,
		displayName: fp.DisplayName,
		photoURL:    fp.PhotoURL,
		providers:   []provider.Tag{tag},
	}
	p.accounts[acct.uid] = acct
	if fp.Email != "" {
		p.byEmail[fp.Email] = acct.uid
	}
	return p.identityLocked(acct)
}

func (p *Provider) dequeueLocked() (FederatedProfile, error) {
	if len(p.queue) == 0 {
		return FederatedProfile{}, provider.Errorf(provider.CodeProviderError, "no federated sign-in staged")
	}
	fp := p.queue[0]
	p.queue = p.queue[1:]
	return fp, nil
}

func (p *Provider) lookupEmailLocked(email string) *account {
	if email == "" {
		return nil
	}
	uid, ok := p.byEmail[email]
	if !ok {
		return nil
	}
	return p.accounts[uid]
}

// identityLocked snapshots an account as a provider identity with a freshly
// minted ID token.
func (p *Provider) identityLocked(acct *account) (*provider.Identity, error) {
	token, err := p.tokens.GenerateWithDuration(acct.uid, idTokenLifetime)
	if err != nil {
		return nil, provider.Errorf(provider.CodeProviderError, "minting ID token: %v", err)
	}

	providers := make([]provider.Tag, len(acct.providers))
	copy(providers, acct.providers)

	return &provider.Identity{
		UID:         acct.uid,
		Email:       acct.email,
		DisplayName: acct.displayName,
		PhotoURL:    acct.photoURL,
		Providers:   providers,
		IDToken:     token,
	}, nil
}

func hasTag(tags []provider.Tag, want provider.Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

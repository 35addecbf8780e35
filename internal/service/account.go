package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"

	"github.com/hndang/authbridge/internal/apperror"
	"github.com/hndang/authbridge/internal/model"
	"github.com/hndang/authbridge/internal/provider"
)

// RegisterWithPassword creates a new password account and its profile record.
//
// The provider owns uniqueness: registering an email that already has an
// account fails there and the error propagates verbatim. The display name is
// ours — the provider never sees it, so we stamp it onto the identity before
// the profile write.
func (s *AuthService) RegisterWithPassword(ctx context.Context, name, email, password string) (*SignInResult, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	id, err := s.idp.SignUpWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	id.DisplayName = name

	s.logger.Info("account registered",
		slog.String("uid", id.UID),
	)

	return s.settle(ctx, id)
}

// SignInWithPassword authenticates an email + password pair.
//
// Unlike the federated paths this does not touch the profile record: a plain
// password sign-in proves nothing new about the profile, and keeping it
// read-free makes the common login as cheap as the provider call itself.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*provider.Identity, error) {
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("credentials", "email and password are required")
	}
	return s.idp.SignInWithPassword(ctx, email, password)
}

// IdentityFromToken resolves a provider-issued ID token back to its identity,
// then makes sure the profile record exists.
//
// This backs the Bearer session exchange: after a redirect handshake resumes
// in the browser, the page holds only an ID token and posts it here to obtain
// an application session.
func (s *AuthService) IdentityFromToken(ctx context.Context, idToken string) (*SignInResult, error) {
	if idToken == "" {
		return nil, apperror.ValidationFailed("token", "bearer token is required")
	}

	id, err := s.idp.LookupToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, id)
}

// GetProfile returns the stored profile record for a UID.
func (s *AuthService) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	if uid == "" {
		return nil, apperror.ValidationFailed("uid", "uid is required")
	}

	fields, err := s.docs.Get(ctx, model.Collection, uid)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("profile", uid)
		}
		return nil, err
	}
	return model.FromDocument(fields), nil
}

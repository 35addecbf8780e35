// Package auth provides the application session layer: JWT session tokens,
// the session-cookie middleware, and password hashing for the local identity
// provider.
//
// SESSIONS VS PROVIDER TOKENS:
// The identity provider issues short-lived ID tokens proving who signed in.
// We never store those. After a sign-in settles, the HTTP layer exchanges the
// provider identity for one of OUR session tokens — an HS256 JWT carrying the
// UID in the "sub" claim — and sets it in an HttpOnly cookie. From then on
// the provider is out of the request path entirely: the session token is
// verified locally with the shared secret, no network call needed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionLifetime is how long a session cookie stays valid before the user
// must sign in again. The browser flow has no refresh token, so this is the
// full re-authentication interval.
const sessionLifetime = 12 * time.Hour

// TokenService signs and verifies session JWTs.
//
// It holds the HMAC secret used for both operations. The secret should be at
// least 32 bytes of random data in production:
//
//	SESSION_SECRET=$(openssl rand -hex 32)
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. The standard "sub" (Subject) claim carries the
// provider UID of the signed-in account.
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a session token for the given UID.
func (s *TokenService) Generate(uid string) (string, error) {
	return s.GenerateWithDuration(uid, sessionLifetime)
}

// GenerateWithDuration creates a token with a custom expiry.
// Used by tests and by the local provider for its ID tokens.
func (s *TokenService) GenerateWithDuration(uid string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    "authbridge",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token, returning the UID it encodes.
//
// The library checks the signature, expiry, and issuer. Pinning the accepted
// algorithms to HS256 closes the algorithm-confusion hole where a token
// claiming alg "none" would otherwise slip through.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("authbridge"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	uid := c.Subject
	if uid == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return uid, nil
}

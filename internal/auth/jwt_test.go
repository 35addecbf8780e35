package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenService_SecretLength(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Error("NewTokenService() accepted a secret under 16 characters")
	}
	if _, err := NewTokenService("this-is-16-chars"); err != nil {
		t.Errorf("NewTokenService() rejected a valid secret: %v", err)
	}
}

// =========================================================================
// SESSION TOKENS
// =========================================================================

func TestSessionToken_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	// Sessions carry the provider UID — opaque strings like xid values, not
	// sequential ids.
	uid := "d0j2p3q4r5s6t7u8v9w0"
	token, err := ts.Generate(uid)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Generate() output is not a compact JWT: %q", token)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != uid {
		t.Errorf("Validate() uid = %q, want %q", got, uid)
	}
}

func TestSessionToken_DistinctPerUID(t *testing.T) {
	ts := newTestTokenService(t)

	a, _ := ts.Generate("uid-a")
	b, _ := ts.Generate("uid-b")
	if a == b {
		t.Error("Generate() produced identical tokens for different UIDs")
	}
}

// TestIDTokenLifetime exercises the path the local identity provider uses:
// it mints one-hour ID tokens through GenerateWithDuration instead of
// full-length sessions.
func TestIDTokenLifetime(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("uid-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}
	if _, err := ts.Validate(token); err != nil {
		t.Errorf("Validate() rejected a fresh one-hour token: %v", err)
	}
}

// =========================================================================
// REJECTION CASES
// =========================================================================

func TestValidate_Expired(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("uid-1", -time.Second)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}
	if _, err := ts.Validate(token); err == nil {
		t.Error("Validate() accepted an expired token")
	}
}

func TestValidate_TamperedSignature(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Generate("uid-1")
	tampered := token[:len(token)-3] + "xxx"
	if _, err := ts.Validate(tampered); err == nil {
		t.Error("Validate() accepted a token with a corrupted signature")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	signer, _ := NewTokenService("correct-secret-32-chars-long!!!!")
	verifier, _ := NewTokenService("rotated-secret-32-chars-long!!!!")

	token, _ := signer.Generate("uid-1")
	if _, err := verifier.Validate(token); err == nil {
		t.Error("Validate() accepted a token signed under a different secret")
	}
}

func TestValidate_ForeignIssuer(t *testing.T) {
	ts := newTestTokenService(t)

	// Correctly signed, but issued by someone else. Issuer pinning must
	// refuse it even though the signature verifies.
	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "uid-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		Issuer:    "some-other-service",
	})
	signed, err := foreign.SignedString([]byte("test-secret-at-least-16-chars!!"))
	if err != nil {
		t.Fatalf("signing foreign token: %v", err)
	}

	if _, err := ts.Validate(signed); err == nil {
		t.Error("Validate() accepted a token from a foreign issuer")
	}
}

func TestValidate_MissingSubject(t *testing.T) {
	ts := newTestTokenService(t)

	// A token with no UID identifies nobody and must be refused, or the
	// middleware would admit an anonymous session.
	token, err := ts.Generate("")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := ts.Validate(token); err == nil {
		t.Error("Validate() accepted a token without a subject")
	}
}

func TestValidate_Garbage(t *testing.T) {
	ts := newTestTokenService(t)

	for _, bad := range []string{"", "not-a-jwt", "a.b.c.d"} {
		if _, err := ts.Validate(bad); err == nil {
			t.Errorf("Validate(%q) accepted garbage input", bad)
		}
	}
}

package auth

import (
	"strings"
	"testing"
)

// Cost 4 is the bcrypt minimum; the local provider's tests seed accounts
// through this path and full-cost hashing would dominate their runtime.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(4)
}

func TestHashVerify_AccountPasswords(t *testing.T) {
	ps := newTestPasswordService()

	// The shapes that reach SignUpWithPassword / SeedPassword in practice.
	passwords := []struct {
		name  string
		value string
	}{
		{"typical", "secret123"},
		{"symbols", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"spaces kept", "  not trimmed  "},
	}

	for _, tc := range passwords {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ps.Hash(tc.value)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", tc.value, err)
			}
			if !strings.HasPrefix(hash, "$2") {
				t.Errorf("Hash() output is not a bcrypt hash: %q", hash)
			}
			if err := ps.Verify(hash, tc.value); err != nil {
				t.Errorf("Verify() rejected the original password: %v", err)
			}
			if err := ps.Verify(hash, tc.value+"x"); err == nil {
				t.Error("Verify() accepted a different password")
			}
		})
	}
}

func TestHash_SaltIsRandom(t *testing.T) {
	ps := newTestPasswordService()

	// Two accounts registering the same password must store different
	// hashes, otherwise one leak exposes both.
	a, _ := ps.Hash("secret123")
	b, _ := ps.Hash("secret123")
	if a == b {
		t.Error("Hash() produced identical hashes for the same input")
	}
}

func TestHash_LengthBoundary(t *testing.T) {
	ps := newTestPasswordService()

	// bcrypt truncates silently past 72 bytes; Hash rejects instead so a
	// registration never stores less entropy than the user typed.
	if _, err := ps.Hash(strings.Repeat("a", 72)); err != nil {
		t.Errorf("Hash() rejected a 72-byte password: %v", err)
	}
	if _, err := ps.Hash(strings.Repeat("a", 73)); err == nil {
		t.Error("Hash() accepted a 73-byte password")
	}
}

func TestVerify_BadInputs(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("secret123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if err := ps.Verify(hash, ""); err == nil {
		t.Error("Verify() accepted an empty password")
	}
	if err := ps.Verify("not-a-bcrypt-hash", "secret123"); err == nil {
		t.Error("Verify() accepted a malformed stored hash")
	}
}

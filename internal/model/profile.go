// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/hndang/authbridge/internal/provider"
)

// Collection is the document-store collection holding profile records.
const Collection = "users"

// Profile is the document-store record mirroring a provider identity.
//
// There is at most one Profile per UID, and the UID is the provider's — we
// deliberately do not mint our own key, because the provider identity is the
// authority and every lookup starts from it.
//
// CreatedAt is written exactly once, on the first successful sign-in for a
// UID. Every later sign-in only touches UpdatedAt and PhotoURL; other fields
// (including ones added by other parts of the application) survive untouched
// because updates go through a merge write.
type Profile struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Provider    provider.Tag // originating sign-in method
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewDocument builds the full document for a first-time profile write.
//
// STABLE SHAPE:
// Optional identity fields are always written — a missing email becomes an
// explicit null, a missing name or photo an empty string. Later readers can
// rely on every key being present regardless of which provider created the
// account.
func NewDocument(id *provider.Identity, now time.Time) map[string]any {
	var email any // null when the provider reported no email
	if id.Email != "" {
		email = id.Email
	}

	// The stored value is the sign-in method tag ("google.com", "password"),
	// not a bare provider name — the same vocabulary SignInMethods speaks, so
	// readers can compare the field against method lists directly.
	origin := provider.TagGoogle
	if len(id.Providers) > 0 {
		origin = id.Providers[0]
	}

	return map[string]any{
		"uid":         id.UID,
		"email":       email,
		"displayName": id.DisplayName,
		"photoURL":    id.PhotoURL,
		"provider":    string(origin),
		"createdAt":   now.UTC().Format(time.RFC3339Nano),
		"updatedAt":   now.UTC().Format(time.RFC3339Nano),
	}
}

// MergeDocument builds the partial document for a repeat sign-in.
// Only the last-touch timestamp and the photo are refreshed; everything else
// is left to the merge semantics of the store.
func MergeDocument(id *provider.Identity, now time.Time) map[string]any {
	return map[string]any{
		"updatedAt": now.UTC().Format(time.RFC3339Nano),
		"photoURL":  id.PhotoURL,
	}
}

// FromDocument reconstructs a Profile from stored document fields.
// Unknown or missing fields read as zero values — documents written before a
// field existed stay readable.
func FromDocument(fields map[string]any) *Profile {
	p := &Profile{
		UID:         str(fields["uid"]),
		Email:       str(fields["email"]),
		DisplayName: str(fields["displayName"]),
		PhotoURL:    str(fields["photoURL"]),
		Provider:    provider.Tag(str(fields["provider"])),
	}
	p.CreatedAt = stamp(fields["createdAt"])
	p.UpdatedAt = stamp(fields["updatedAt"])
	return p
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func stamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

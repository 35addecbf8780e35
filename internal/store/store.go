// Package store defines the document-store contract the application persists
// profile records through.
//
// The interface is deliberately Firestore-shaped: documents are loose field
// maps addressed by (collection, key), and a write is either a full replace
// or a merge that touches only the supplied fields. The flow in
// internal/service depends on merge semantics — a repeat sign-in must not
// clobber fields written by other parts of the application.
package store

import "context"

// DocumentStore is the capability set consumed by the profile upsert.
//
// Get returns apperror.ErrNotFound (wrapped) when no document exists under
// the key; implementations must not invent empty documents.
//
// Set with merge=false replaces the whole document. With merge=true only the
// supplied fields change; absent fields keep their stored values. A merge
// against a missing document creates it.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (map[string]any, error)
	Set(ctx context.Context, collection, key string, fields map[string]any, merge bool) error
}

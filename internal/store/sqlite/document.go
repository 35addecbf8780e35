package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hndang/authbridge/internal/apperror"
	"github.com/hndang/authbridge/internal/store"
)

// compile-time check that *DB implements store.DocumentStore
var _ store.DocumentStore = (*DB)(nil)

// Get reads one document and decodes its fields.
// Returns apperror.ErrNotFound (wrapped) when the document does not exist.
func (db *DB) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("document", collection+"/"+key)
		}
		return nil, fmt.Errorf("sqlite: getting document %s/%s: %w", collection, key, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("sqlite: decoding document %s/%s: %w", collection, key, err)
	}
	return fields, nil
}

// Set writes a document.
//
// merge=false replaces the stored fields wholesale. merge=true updates only
// the supplied fields and keeps everything else — the read-modify-write runs
// inside a transaction so two concurrent merges cannot interleave their
// decode/encode steps. Last write wins per field, which is the bounded
// inconsistency the sign-in flow accepts.
func (db *DB) Set(ctx context.Context, collection, key string, fields map[string]any, merge bool) error {
	if !merge {
		return db.replace(ctx, collection, key, fields)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: starting merge transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	current := map[string]any{}
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// merge against a missing document creates it
	case err != nil:
		return fmt.Errorf("sqlite: reading document %s/%s for merge: %w", collection, key, err)
	default:
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("sqlite: decoding document %s/%s for merge: %w", collection, key, err)
		}
	}

	for k, v := range fields {
		current[k] = v
	}

	if err := upsertRow(ctx, tx, collection, key, current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing merge for %s/%s: %w", collection, key, err)
	}
	return nil
}

func (db *DB) replace(ctx context.Context, collection, key string, fields map[string]any) error {
	return upsertRow(ctx, db.conn, collection, key, fields)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRow(ctx context.Context, ex execer, collection, key string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlite: encoding document %s/%s: %w", collection, key, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO documents (collection, key, fields, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`, collection, key, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: writing document %s/%s: %w", collection, key, err)
	}
	return nil
}

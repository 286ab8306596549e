package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/dbx"
)

// DefaultMaxValueSize is the per-entry ceiling. Local key-value storage is
// not meant for large objects; the snapshot codec compresses and caps its
// envelopes well below this before writing.
const DefaultMaxValueSize = 1 << 20 // 1 MiB

// KV is a key-value repository over the local SQLite database.
type KV struct {
	db           dbx.DBTX
	maxValueSize int
}

// NewKV constructs a KV bound to the given DBTX. maxValueSize <= 0 selects
// DefaultMaxValueSize.
func NewKV(db dbx.DBTX, maxValueSize int) *KV {
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &KV{db: db, maxValueSize: maxValueSize}
}

// Get returns the value for key, or (nil, nil) if the key is absent.
func (r *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key. Values above the per-entry ceiling are
// rejected with common.ErrValueTooLarge.
func (r *KV) Set(ctx context.Context, key string, value []byte) error {
	if len(value) > r.maxValueSize {
		return fmt.Errorf("kv[%s]: %d bytes: %w", key, len(value), common.ErrValueTooLarge)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (r *KV) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to remove kv[%s]: %w", key, err)
	}
	return nil
}

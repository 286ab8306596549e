// Package cache implements the offline snapshot: a compressed, size-capped
// local copy of the last known document state plus its revision, used for
// instant hydration and reads while both the network and the blob store
// are unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/localstore"
	"github.com/studioflow/docsync/internal/logging"
)

// DefaultMaxCompressedSize is the hard cap on a stored snapshot after
// compression.
const DefaultMaxCompressedSize = 300 << 10 // 300 KiB

const keyPrefix = "snapshot:"

// Snapshot is the deserialized envelope returned by Load.
type Snapshot struct {
	DocumentID string    `json:"document_id"`
	Revision   int64     `json:"revision"`
	Payload    []byte    `json:"payload"`
	SavedAt    time.Time `json:"saved_at"`
}

// SnapshotStore persists snapshots into the local key-value store. One
// snapshot per document, overwritten on every successful or queued save.
type SnapshotStore struct {
	kv     *localstore.KV
	maxLen int
	log    logging.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewSnapshotStore constructs a snapshot store. maxCompressedSize <= 0
// selects DefaultMaxCompressedSize.
func NewSnapshotStore(kv *localstore.KV, maxCompressedSize int, log logging.Logger) (*SnapshotStore, error) {
	if maxCompressedSize <= 0 {
		maxCompressedSize = DefaultMaxCompressedSize
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &SnapshotStore{kv: kv, maxLen: maxCompressedSize, log: log, enc: enc, dec: dec}, nil
}

// Save stores a snapshot of payload at revision. If the compressed envelope
// exceeds the cap the write is skipped with a warning and
// common.ErrSnapshotTooLarge is returned; the caller's save must not fail
// on it, losing the offline-read convenience beats losing the save.
func (s *SnapshotStore) Save(ctx context.Context, documentID string, payload []byte, revision int64) error {
	env := Snapshot{
		DocumentID: documentID,
		Revision:   revision,
		Payload:    payload,
		SavedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w: %w", documentID, common.ErrMalformedPayload, err)
	}

	compressed := s.enc.EncodeAll(raw, nil)
	if len(compressed) > s.maxLen {
		s.log.Warn(ctx, "snapshot exceeds cap, skipping local copy",
			"document_id", documentID, "compressed_bytes", len(compressed), "cap", s.maxLen)
		return fmt.Errorf("snapshot %s: %d bytes compressed: %w", documentID, len(compressed), common.ErrSnapshotTooLarge)
	}

	if err := s.kv.Set(ctx, keyPrefix+documentID, compressed); err != nil {
		return fmt.Errorf("snapshot %s: %w", documentID, err)
	}
	return nil
}

// Load returns the stored snapshot, or (nil, nil) if none exists.
func (s *SnapshotStore) Load(ctx context.Context, documentID string) (*Snapshot, error) {
	compressed, err := s.kv.Get(ctx, keyPrefix+documentID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", documentID, err)
	}
	if compressed == nil {
		return nil, nil
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w: %w", documentID, common.ErrMalformedPayload, err)
	}

	var env Snapshot
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w: %w", documentID, common.ErrMalformedPayload, err)
	}
	return &env, nil
}

// Remove deletes the stored snapshot, if any.
func (s *SnapshotStore) Remove(ctx context.Context, documentID string) error {
	return s.kv.Remove(ctx, keyPrefix+documentID)
}

// Package pointer provides the metadata/pointer store adapter. The pointer
// record names the current blob path and revision for a document; its
// guarded update is the commit point of the whole engine.
package pointer

import (
	"context"
	"fmt"
	"time"

	"github.com/studioflow/docsync/internal/common"
)

// Metadata is the pointer record for one document. BlobPath is a canonical
// storage path, never a time-limited URL.
type Metadata struct {
	DocumentID string
	BlobPath   string
	Revision   int64
	SizeBytes  int64
	SyncedAt   time.Time
}

// RevisionMismatchError reports a failed guarded update. Actual is the
// revision the store held at the time of the attempt. It matches
// common.ErrRevisionConflict under errors.Is.
type RevisionMismatchError struct {
	Actual int64
}

func (e *RevisionMismatchError) Error() string {
	return fmt.Sprintf("revision mismatch: store holds revision %d", e.Actual)
}

func (e *RevisionMismatchError) Unwrap() error {
	return common.ErrRevisionConflict
}

// Store is the pointer service consumed by the commit protocol.
type Store interface {
	// Get returns the current pointer record, or common.ErrNotFound if the
	// document has never been committed.
	Get(ctx context.Context, documentID string) (*Metadata, error)

	// ConditionalSet replaces the pointer record only if the stored
	// revision still equals expectedRevision (0 for a first commit). The
	// check-and-set must execute as one atomic operation in the store; on
	// guard failure a *RevisionMismatchError is returned and nothing is
	// written.
	ConditionalSet(ctx context.Context, rec Metadata, expectedRevision int64) error
}

// Package resolver detects and classifies write conflicts between devices
// sharing no lock. It never merges payload contents; content merge belongs
// to the caller, this layer only surfaces both versions and applies the
// caller's decision.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/studioflow/docsync/internal/blob"
	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/pointer"
)

// Resolution is the caller's decision for a conflict.
type Resolution string

const (
	// UseLocal re-commits the local payload as a new revision past the
	// remote one, resolving the race in the local writer's favor.
	UseLocal Resolution = "use_local"

	// UseRemote discards the local attempt and refreshes local state from
	// the remote version.
	UseRemote Resolution = "use_remote"

	// Merge commits a caller-supplied merged payload as a new revision.
	Merge Resolution = "merge"

	// Cancel aborts without writing anything; no data is lost, the local
	// payload stays with the caller.
	Cancel Resolution = "cancel"
)

// ConflictRecord carries both sides of a detected conflict. Ephemeral:
// produced for one resolution call and discarded.
type ConflictRecord struct {
	DocumentID     string
	LocalRevision  int64
	LocalPayload   []byte
	RemoteMetadata pointer.Metadata
	RemotePayload  []byte
}

// ConflictError is the typed result surfaced to callers when a commit loses
// a revision race. Matches common.ErrRevisionConflict under errors.Is.
type ConflictError struct {
	Record *ConflictRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: local revision %d, remote revision %d",
		e.Record.DocumentID, e.Record.LocalRevision, e.Record.RemoteMetadata.Revision)
}

func (e *ConflictError) Unwrap() error {
	return common.ErrRevisionConflict
}

// Decision is a policy's output. MergedPayload is consulted only for Merge.
type Decision struct {
	Resolution    Resolution
	MergedPayload []byte
}

// Policy decides how to resolve a conflict. It runs with both versions in
// hand and must return one of the four resolutions.
type Policy func(ctx context.Context, rec *ConflictRecord) (Decision, error)

// KeepRemote is the default policy: accept the other device's version.
// Deliberately explicit; the engine never falls back to it silently.
func KeepRemote(ctx context.Context, rec *ConflictRecord) (Decision, error) {
	return Decision{Resolution: UseRemote}, nil
}

// KeepLocal forces the local payload through as a new revision.
func KeepLocal(ctx context.Context, rec *ConflictRecord) (Decision, error) {
	return Decision{Resolution: UseLocal}, nil
}

// Abort cancels the save, leaving both versions untouched.
func Abort(ctx context.Context, rec *ConflictRecord) (Decision, error) {
	return Decision{Resolution: Cancel}, nil
}

// Resolver inspects remote state to detect conflicts before or after a
// failed guarded update.
type Resolver struct {
	pointers pointer.Store
	blobs    blob.Store
}

func New(pointers pointer.Store, blobs blob.Store) *Resolver {
	return &Resolver{pointers: pointers, blobs: blobs}
}

// Detect compares localRevision against the store. When the remote side is
// ahead it returns a ConflictRecord including the remote payload; otherwise
// it returns nil. Used proactively (e.g. after a long offline stretch) and
// to enrich a failed guarded update with the winner's data.
func (r *Resolver) Detect(ctx context.Context, documentID string, localRevision int64, localPayload []byte) (*ConflictRecord, error) {
	meta, err := r.pointers.Get(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conflict detection for %s: %w", documentID, err)
	}
	if meta.Revision <= localRevision {
		return nil, nil
	}

	remotePayload, err := r.blobs.Get(ctx, meta.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("conflict detection for %s: fetching remote revision %d: %w",
			documentID, meta.Revision, err)
	}

	return &ConflictRecord{
		DocumentID:     documentID,
		LocalRevision:  localRevision,
		LocalPayload:   localPayload,
		RemoteMetadata: *meta,
		RemotePayload:  remotePayload,
	}, nil
}

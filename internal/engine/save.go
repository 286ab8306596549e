package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/pointer"
	"github.com/studioflow/docsync/internal/resolver"
	"github.com/studioflow/docsync/internal/revision"
	"github.com/studioflow/docsync/internal/status"
)

const payloadContentType = "application/octet-stream"

// SaveResult reports the outcome of a save. Queued means the remote side
// was unreachable and the operation persisted to the offline queue;
// Revision is then the revision the commit will produce once it drains.
type SaveResult struct {
	Queued     bool
	Revision   int64
	Resolution resolver.Resolution
}

// Save commits payload as the next revision of documentID. Concurrent
// saves for the same document serialize in arrival order. A transient
// remote failure queues the save for later replay; losing a revision race
// resolves through the configured policy or surfaces to the caller as a
// *resolver.ConflictError.
func (e *Engine) Save(ctx context.Context, documentID string, payload []byte) (*SaveResult, error) {
	var res *SaveResult
	err := e.locks.RunExclusive(ctx, documentID, func(ctx context.Context) error {
		var err error
		res, err = e.save(ctx, documentID, payload)
		return err
	})
	return res, err
}

func (e *Engine) save(ctx context.Context, documentID string, payload []byte) (*SaveResult, error) {
	started := e.now()
	_ = e.tracker.Set(documentID, status.Syncing)

	expected, oldPath, err := e.currentRevision(ctx, documentID)
	if err != nil {
		// The store is unreachable; guard the queued commit against the
		// last revision local evidence knows about.
		return e.queueOffline(ctx, documentID, payload, e.lastKnownRevision(ctx, documentID), started, err)
	}

	rev, err := e.commit(ctx, documentID, payload, expected, oldPath)
	if err == nil {
		e.snapshot(ctx, documentID, payload, rev)
		_ = e.tracker.Set(documentID, status.Synced,
			status.WithRevision(rev), status.WithSyncedAt(e.now().UTC()))
		e.recordEvent(status.EventSave, true, started, documentID, "", "")
		return &SaveResult{Revision: rev}, nil
	}

	if errors.Is(err, common.ErrRevisionConflict) {
		return e.handleConflict(ctx, documentID, payload, expected, started)
	}
	return e.queueOffline(ctx, documentID, payload, expected, started, err)
}

// lastKnownRevision is the offline substitute for a pointer read: the
// snapshot's revision (durable across restarts, and already advanced past
// any save this process queued earlier), falling back to the tracker for
// documents whose snapshot was skipped over the size cap.
func (e *Engine) lastKnownRevision(ctx context.Context, documentID string) int64 {
	if snap, err := e.snapshots.Load(ctx, documentID); err == nil && snap != nil {
		return snap.Revision
	}
	if st := e.tracker.Get(documentID); st.Revision > 0 {
		return st.Revision
	}
	return revision.Initial
}

// currentRevision reads the pointer to learn the revision a commit must
// guard against and the blob path it will supersede. A never-committed
// document yields revision.Initial.
func (e *Engine) currentRevision(ctx context.Context, documentID string) (int64, string, error) {
	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	meta, err := e.pointers.Get(rctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		return revision.Initial, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return meta.Revision, meta.BlobPath, nil
}

// commit runs the two-step protocol: upload the payload to its
// deterministic path, then flip the pointer with a revision guard. The
// superseded blob is deleted asynchronously after the flip; an orphan from
// a failed delete is harmless.
func (e *Engine) commit(ctx context.Context, documentID string, payload []byte, expected int64, oldPath string) (int64, error) {
	rev := revision.Next(expected)
	path := revision.BlobPath(documentID, rev)

	putCtx, cancel := e.remoteCtx(ctx)
	defer cancel()
	if err := e.blobs.Put(putCtx, path, payload, payloadContentType); err != nil {
		return 0, fmt.Errorf("upload %s: %w", path, err)
	}

	setCtx, cancel := e.remoteCtx(ctx)
	defer cancel()
	rec := pointer.Metadata{
		DocumentID: documentID,
		BlobPath:   path,
		Revision:   rev,
		SizeBytes:  int64(len(payload)),
		SyncedAt:   e.now().UTC(),
	}
	if err := e.pointers.ConditionalSet(setCtx, rec, expected); err != nil {
		return 0, err
	}
	e.noteOwnCommit(documentID, rev)

	if oldPath != "" && oldPath != path {
		e.deleteBlobAsync(oldPath)
	}
	return rev, nil
}

func (e *Engine) deleteBlobAsync(path string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.remoteTimeout)
		defer cancel()
		if err := e.blobs.Delete(ctx, path); err != nil {
			e.log.Warn(ctx, "superseded blob cleanup failed", "path", path, "error", err.Error())
		}
	}()
}

// snapshot refreshes the local copy. Failures degrade offline reads but
// never fail the surrounding operation.
func (e *Engine) snapshot(ctx context.Context, documentID string, payload []byte, rev int64) {
	if err := e.snapshots.Save(ctx, documentID, payload, rev); err != nil &&
		!errors.Is(err, common.ErrSnapshotTooLarge) {
		e.log.Warn(ctx, "snapshot refresh failed", "document_id", documentID, "error", err.Error())
	}
}

// queueOffline persists the save for background replay after a transient
// remote failure. The caller's save succeeds with Queued set; only a full
// queue fails it.
func (e *Engine) queueOffline(ctx context.Context, documentID string, payload []byte, expected int64, started time.Time, cause error) (*SaveResult, error) {
	op, err := e.queue.Enqueue(ctx, documentID, payload, expected)
	if err != nil {
		_ = e.tracker.Set(documentID, status.Error, status.WithError(err))
		e.recordEvent(status.EventSave, false, started, documentID, errorCode(err), "")
		return nil, fmt.Errorf("save %s: %w", documentID, err)
	}

	rev := revision.Next(expected)
	e.snapshot(ctx, documentID, payload, rev)
	_ = e.tracker.Set(documentID, status.Offline, status.WithRevision(rev), status.WithError(cause))
	e.log.Info(ctx, "save queued for replay",
		"document_id", documentID, "operation_id", op.ID, "error", cause.Error())
	e.recordEvent(status.EventSave, true, started, documentID, "", "")
	return &SaveResult{Queued: true, Revision: rev}, nil
}

// handleConflict enriches a lost revision race with the winner's data and
// resolves it: through the configured policy when one is set, otherwise by
// handing both versions to the caller.
func (e *Engine) handleConflict(ctx context.Context, documentID string, payload []byte, expected int64, started time.Time) (*SaveResult, error) {
	dctx, cancel := e.remoteCtx(ctx)
	rec, err := e.resolver.Detect(dctx, documentID, expected, payload)
	cancel()
	if err != nil {
		_ = e.tracker.Set(documentID, status.Conflict, status.WithError(err))
		e.recordEvent(status.EventSyncError, false, started, documentID, errorCode(err), "")
		return nil, fmt.Errorf("save %s: %w", documentID, err)
	}
	if rec == nil {
		// The winning commit is already gone again (deleted or rolled
		// back); replay through the queue rather than spinning here.
		return e.queueOffline(ctx, documentID, payload, expected, started,
			common.ErrRevisionConflict)
	}

	e.recordEvent(status.EventConflict, false, started, documentID, "revision_conflict", "")

	if e.policy == nil {
		cErr := &resolver.ConflictError{Record: rec}
		_ = e.tracker.Set(documentID, status.Conflict, status.WithError(cErr))
		return nil, cErr
	}

	decision, err := e.policy(ctx, rec)
	if err != nil {
		_ = e.tracker.Set(documentID, status.Conflict, status.WithError(err))
		return nil, fmt.Errorf("conflict policy for %s: %w", documentID, err)
	}
	return e.applyDecision(ctx, rec, decision, started)
}

// ResolveConflict applies an interactive decision to a previously surfaced
// conflict. It serializes against concurrent saves of the same document.
func (e *Engine) ResolveConflict(ctx context.Context, rec *resolver.ConflictRecord, decision resolver.Decision) (*SaveResult, error) {
	var res *SaveResult
	err := e.locks.RunExclusive(ctx, rec.DocumentID, func(ctx context.Context) error {
		var err error
		res, err = e.applyDecision(ctx, rec, decision, e.now())
		return err
	})
	return res, err
}

func (e *Engine) applyDecision(ctx context.Context, rec *resolver.ConflictRecord, decision resolver.Decision, started time.Time) (*SaveResult, error) {
	documentID := rec.DocumentID
	remote := rec.RemoteMetadata

	switch decision.Resolution {
	case resolver.UseRemote:
		e.snapshot(ctx, documentID, rec.RemotePayload, remote.Revision)
		_ = e.tracker.Set(documentID, status.Synced,
			status.WithRevision(remote.Revision), status.WithSyncedAt(e.now().UTC()))
		e.recordEvent(status.EventSave, true, started, documentID, "", "")
		return &SaveResult{Revision: remote.Revision, Resolution: resolver.UseRemote}, nil

	case resolver.UseLocal, resolver.Merge:
		payload := rec.LocalPayload
		if decision.Resolution == resolver.Merge {
			if decision.MergedPayload == nil {
				return nil, fmt.Errorf("resolve %s: merge decision without merged payload: %w",
					documentID, common.ErrMalformedPayload)
			}
			payload = decision.MergedPayload
		}
		rev, err := e.commit(ctx, documentID, payload, remote.Revision, remote.BlobPath)
		if errors.Is(err, common.ErrRevisionConflict) {
			// Lost again while resolving; surface the fresh race.
			return e.handleConflict(ctx, documentID, payload, remote.Revision, started)
		}
		if err != nil {
			return e.queueOffline(ctx, documentID, payload, remote.Revision, started, err)
		}
		e.snapshot(ctx, documentID, payload, rev)
		_ = e.tracker.Set(documentID, status.Synced,
			status.WithRevision(rev), status.WithSyncedAt(e.now().UTC()))
		e.recordEvent(status.EventSave, true, started, documentID, "", "")
		return &SaveResult{Revision: rev, Resolution: decision.Resolution}, nil

	case resolver.Cancel:
		_ = e.tracker.Set(documentID, status.Conflict)
		return &SaveResult{Revision: remote.Revision, Resolution: resolver.Cancel}, nil

	default:
		return nil, fmt.Errorf("resolve %s: unknown resolution %q", documentID, decision.Resolution)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrRevisionConflict):
		return "revision_conflict"
	case errors.Is(err, common.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, common.ErrNoData):
		return "no_data"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "remote_unavailable"
	}
}

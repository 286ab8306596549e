package engine

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/pointer"
	"github.com/studioflow/docsync/internal/queue"
	"github.com/studioflow/docsync/internal/revision"
	"github.com/studioflow/docsync/internal/status"
)

// replayCommit is the queue's commit function. It serializes against live
// saves of the same document and re-checks the pointer before uploading:
// a previous attempt may have committed even though its response was lost,
// and a replay must never increment the revision twice.
func (e *Engine) replayCommit(ctx context.Context, op *queue.Operation) error {
	return e.locks.RunExclusive(ctx, op.DocumentID, func(ctx context.Context) error {
		return e.replayOne(ctx, op)
	})
}

func (e *Engine) replayOne(ctx context.Context, op *queue.Operation) error {
	started := e.now()
	documentID := op.DocumentID
	_ = e.tracker.Set(documentID, status.Syncing)

	rctx, cancel := e.remoteCtx(ctx)
	meta, err := e.pointers.Get(rctx, documentID)
	cancel()

	actual := revision.Initial
	oldPath := ""
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		e.recordEvent(status.EventSyncError, false, started, documentID, errorCode(err), "")
		_ = e.tracker.Set(documentID, status.Offline, status.WithError(err))
		return err
	default:
		actual = meta.Revision
		oldPath = meta.BlobPath
	}

	if actual == op.ExpectedRevision {
		return e.commitReplay(ctx, op, actual, oldPath, started)
	}

	if actual == revision.Next(op.ExpectedRevision) {
		// The pointer is exactly one ahead of the guard. If it names the
		// path this operation uploads to and holds the same bytes, the
		// earlier attempt committed and only its response was lost.
		landed, err := e.alreadyLanded(ctx, op, meta)
		if err != nil {
			e.recordEvent(status.EventSyncError, false, started, documentID, errorCode(err), "")
			_ = e.tracker.Set(documentID, status.Offline, status.WithError(err))
			return err
		}
		if landed {
			e.noteOwnCommit(documentID, actual)
			e.log.Info(ctx, "replayed operation had already committed",
				"operation_id", op.ID, "document_id", documentID, "revision", actual)
			e.finishReplay(ctx, op, actual, started)
			return nil
		}
	}

	// The guard went stale because this process itself moved the pointer —
	// an earlier queued operation for the document committed during this
	// drain. That is ordinary FIFO progression, not a cross-device race;
	// re-base on it and commit.
	if actual > op.ExpectedRevision && e.committedBySelf(documentID, actual) {
		e.log.Debug(ctx, "re-basing replay on own earlier commit",
			"operation_id", op.ID, "document_id", documentID,
			"expected", op.ExpectedRevision, "actual", actual)
		return e.commitReplay(ctx, op, actual, oldPath, started)
	}

	mismatch := &pointer.RevisionMismatchError{Actual: actual}
	e.recordEvent(status.EventConflict, false, started, documentID, "revision_conflict", "")
	_ = e.tracker.Set(documentID, status.Conflict, status.WithError(mismatch))
	return mismatch
}

func (e *Engine) commitReplay(ctx context.Context, op *queue.Operation, expected int64, oldPath string, started time.Time) error {
	documentID := op.DocumentID
	rev, err := e.commit(ctx, documentID, op.Payload, expected, oldPath)
	if err != nil {
		if errors.Is(err, common.ErrRevisionConflict) {
			e.recordEvent(status.EventConflict, false, started, documentID, "revision_conflict", "")
			_ = e.tracker.Set(documentID, status.Conflict, status.WithError(err))
		} else {
			e.recordEvent(status.EventSyncError, false, started, documentID, errorCode(err), "")
			_ = e.tracker.Set(documentID, status.Offline, status.WithError(err))
		}
		return err
	}
	e.finishReplay(ctx, op, rev, started)
	return nil
}

func (e *Engine) alreadyLanded(ctx context.Context, op *queue.Operation, meta *pointer.Metadata) (bool, error) {
	want := revision.BlobPath(op.DocumentID, meta.Revision)
	if meta.BlobPath != want {
		return false, nil
	}
	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()
	remote, err := e.blobs.Get(rctx, meta.BlobPath)
	if err != nil {
		return false, err
	}
	return bytes.Equal(remote, op.Payload), nil
}

func (e *Engine) finishReplay(ctx context.Context, op *queue.Operation, rev int64, started time.Time) {
	e.snapshot(ctx, op.DocumentID, op.Payload, rev)
	_ = e.tracker.Set(op.DocumentID, status.Synced,
		status.WithRevision(rev), status.WithSyncedAt(e.now().UTC()))
	e.recordEvent(status.EventSave, true, started, op.DocumentID, "", "")
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/status"
)

// LoadResult is a loaded document version. Source reports whether the
// bytes came from the remote store or the local snapshot.
type LoadResult struct {
	Payload  []byte
	Revision int64
	Source   string
}

// Load fetches the current version of documentID, preferring the remote
// store and falling back to the local snapshot when the remote side is
// unreachable. common.ErrNoData means neither side has the document.
func (e *Engine) Load(ctx context.Context, documentID string) (*LoadResult, error) {
	started := e.now()

	res, remoteErr := e.loadRemote(ctx, documentID)
	if remoteErr == nil {
		e.snapshot(ctx, documentID, res.Payload, res.Revision)
		_ = e.tracker.Set(documentID, status.Synced,
			status.WithRevision(res.Revision), status.WithSyncedAt(e.now().UTC()))
		e.recordEvent(status.EventLoad, true, started, documentID, "", SourceCloud)
		return res, nil
	}

	snap, err := e.snapshots.Load(ctx, documentID)
	if err != nil {
		e.recordEvent(status.EventLoad, false, started, documentID, errorCode(err), "")
		return nil, fmt.Errorf("load %s: %w", documentID, err)
	}
	if snap == nil {
		e.recordEvent(status.EventLoad, false, started, documentID, "no_data", "")
		return nil, fmt.Errorf("load %s: %w", documentID, common.ErrNoData)
	}

	if !errors.Is(remoteErr, common.ErrNotFound) {
		_ = e.tracker.Set(documentID, status.Offline, status.WithError(remoteErr))
		e.log.Warn(ctx, "serving document from local snapshot",
			"document_id", documentID, "revision", snap.Revision, "error", remoteErr.Error())
	}
	e.recordEvent(status.EventLoad, true, started, documentID, "", SourceCache)
	return &LoadResult{Payload: snap.Payload, Revision: snap.Revision, Source: SourceCache}, nil
}

func (e *Engine) loadRemote(ctx context.Context, documentID string) (*LoadResult, error) {
	getCtx, cancel := e.remoteCtx(ctx)
	defer cancel()
	meta, err := e.pointers.Get(getCtx, documentID)
	if err != nil {
		return nil, err
	}

	blobCtx, cancel := e.remoteCtx(ctx)
	defer cancel()
	payload, err := e.blobs.Get(blobCtx, meta.BlobPath)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Payload: payload, Revision: meta.Revision, Source: SourceCloud}, nil
}

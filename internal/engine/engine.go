// Package engine orchestrates document saves and loads across the remote
// blob and pointer stores, the local snapshot cache, and the offline
// queue. It owns the commit protocol and the per-document serialization
// that keeps revisions strictly ordered.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/studioflow/docsync/internal/blob"
	"github.com/studioflow/docsync/internal/cache"
	"github.com/studioflow/docsync/internal/keymutex"
	"github.com/studioflow/docsync/internal/logging"
	"github.com/studioflow/docsync/internal/pointer"
	"github.com/studioflow/docsync/internal/queue"
	"github.com/studioflow/docsync/internal/resolver"
	"github.com/studioflow/docsync/internal/status"
)

// Load sources reported in LoadResult.Source.
const (
	SourceCloud = "cloud"
	SourceCache = "cache"
)

// DefaultRemoteTimeout bounds every individual remote store call.
const DefaultRemoteTimeout = 10 * time.Second

// DefaultPollInterval drives the queue drain loop in Run.
const DefaultPollInterval = 30 * time.Second

// Options configure an Engine. Blobs, Pointers, Snapshots and Queue are
// required; the rest default sensibly.
type Options struct {
	Blobs     blob.Store
	Pointers  pointer.Store
	Snapshots *cache.SnapshotStore
	Queue     *queue.Queue

	// Policy resolves conflicts during synchronous saves. Nil means
	// conflicts are returned to the caller as *resolver.ConflictError
	// for an interactive decision.
	Policy resolver.Policy

	// RemoteTimeout bounds each blob/pointer store call. Zero selects
	// DefaultRemoteTimeout.
	RemoteTimeout time.Duration

	// PollInterval is the queue drain period for Run. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration

	Logger    logging.Logger
	Telemetry *status.Telemetry
}

// Engine is the synchronization service for versioned documents.
type Engine struct {
	blobs     blob.Store
	pointers  pointer.Store
	snapshots *cache.SnapshotStore
	queue     *queue.Queue
	resolver  *resolver.Resolver
	tracker   *status.Tracker
	telemetry *status.Telemetry
	locks     *keymutex.KeyMutex
	policy    resolver.Policy

	remoteTimeout time.Duration
	pollInterval  time.Duration
	log           logging.Logger
	now           func() time.Time

	// ownMu guards ownRevisions: the latest revision this process
	// committed per document. Replays consult it to tell this queue's own
	// progression apart from another device's.
	ownMu        sync.Mutex
	ownRevisions map[string]int64
}

func New(opts Options) *Engine {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = status.NewTelemetry(0)
	}
	return &Engine{
		blobs:         opts.Blobs,
		pointers:      opts.Pointers,
		snapshots:     opts.Snapshots,
		queue:         opts.Queue,
		resolver:      resolver.New(opts.Pointers, opts.Blobs),
		tracker:       status.NewTracker(),
		telemetry:     opts.Telemetry,
		locks:         keymutex.New(),
		policy:        opts.Policy,
		remoteTimeout: opts.RemoteTimeout,
		pollInterval:  opts.PollInterval,
		log:           opts.Logger,
		now:           time.Now,
		ownRevisions:  make(map[string]int64),
	}
}

func (e *Engine) noteOwnCommit(documentID string, rev int64) {
	e.ownMu.Lock()
	defer e.ownMu.Unlock()
	if rev > e.ownRevisions[documentID] {
		e.ownRevisions[documentID] = rev
	}
}

// committedBySelf reports whether rev is the latest revision this process
// itself committed for the document.
func (e *Engine) committedBySelf(documentID string, rev int64) bool {
	e.ownMu.Lock()
	defer e.ownMu.Unlock()
	return e.ownRevisions[documentID] == rev
}

// remoteCtx bounds a single remote store call.
func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.remoteTimeout)
}

// Run operates the background sync loop until ctx is cancelled: queued
// operations drain on every poll tick and on NotifyOnline, dead-letter
// retention is applied periodically, and settled subscriber-less tracker
// state is swept so idle documents do not accumulate.
func (e *Engine) Run(ctx context.Context) {
	e.maintain(ctx)
	go func() {
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.maintain(ctx)
			}
		}
	}()
	e.queue.Run(ctx, e.pollInterval, e.replayCommit)
}

func (e *Engine) maintain(ctx context.Context) {
	if err := e.queue.Maintain(ctx); err != nil {
		e.log.Error(ctx, "dead letter maintenance failed", "error", err.Error())
	}
	e.tracker.Sweep()
}

// NotifyOnline signals that network connectivity returned. The queue drain
// runs immediately instead of waiting for the next poll tick.
func (e *Engine) NotifyOnline() {
	e.queue.Wake()
}

// Status returns the current sync state of a document.
func (e *Engine) Status(documentID string) status.State {
	return e.tracker.Get(documentID)
}

// SubscribeStatus registers cb for sync state changes of documentID and
// delivers the current state immediately. A document seen for the first
// time derives its initial status from local evidence: pending queued work
// means offline, an existing snapshot means synced, otherwise syncing
// until the first load or save settles it.
func (e *Engine) SubscribeStatus(ctx context.Context, documentID string, cb func(status.State)) (func(), error) {
	if e.tracker.Get(documentID).Status == "" {
		initial := status.Syncing
		if snap, err := e.snapshots.Load(ctx, documentID); err == nil && snap != nil {
			initial = status.Synced
		}
		ops, err := e.queue.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			if op.DocumentID == documentID {
				initial = status.Offline
				break
			}
		}
		e.tracker.InitIfAbsent(documentID, initial)
	}
	return e.tracker.Subscribe(documentID, cb), nil
}

// QueueStats reports pending and dead-lettered operation counts.
func (e *Engine) QueueStats(ctx context.Context) (pending, deadLettered int, err error) {
	return e.queue.Stats(ctx)
}

// DeadLetters lists permanently failed operations awaiting a decision.
func (e *Engine) DeadLetters(ctx context.Context) ([]*queue.DeadLetter, error) {
	return e.queue.DeadLetters(ctx)
}

// RetryDeadLetter moves a dead letter back into the active queue and
// triggers an immediate drain.
func (e *Engine) RetryDeadLetter(ctx context.Context, id string) error {
	return e.queue.Retry(ctx, id)
}

// ClearDeadLetters discards all dead letters.
func (e *Engine) ClearDeadLetters(ctx context.Context) error {
	return e.queue.ClearDeadLetters(ctx)
}

// Telemetry exposes the recent-event buffer.
func (e *Engine) Telemetry() *status.Telemetry {
	return e.telemetry
}

func (e *Engine) recordEvent(event string, success bool, started time.Time, documentID, errorCode, source string) {
	e.telemetry.Record(status.TelemetryEvent{
		Event:      event,
		Success:    success,
		LatencyMs:  e.now().Sub(started).Milliseconds(),
		DocumentID: documentID,
		ErrorCode:  errorCode,
		Source:     source,
		At:         e.now().UTC(),
	})
}

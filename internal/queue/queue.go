package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/logging"
)

// CommitFunc replays one queued operation against the remote stores. It is
// expected to re-check the current pointer revision before uploading, so a
// replay after a lost response never double-increments.
type CommitFunc func(ctx context.Context, op *Operation) error

// Options bound the queue's size and retry behavior.
type Options struct {
	// MaxSize caps pending operations; enqueues beyond it fail with
	// common.ErrQueueFull.
	MaxSize int

	// MaxAttempts is the retry budget before an operation dead-letters.
	MaxAttempts int

	// BaseDelay and MaxDelay bound the exponential backoff schedule
	// (BaseDelay, 2×, 4×, … capped at MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxDeadLetterAge prunes dead letters older than this on Open-time
	// maintenance. Zero keeps them forever.
	MaxDeadLetterAge time.Duration
}

// DefaultOptions mirror the production configuration.
func DefaultOptions() Options {
	return Options{
		MaxSize:     100,
		MaxAttempts: 6,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Queue is the offline operation queue service. Persistence is delegated
// to a Repository; this layer owns ordering, backoff, and dead-lettering.
type Queue struct {
	repo Repository
	opts Options
	log  logging.Logger
	wake chan struct{}
	now  func() time.Time
}

func New(repo Repository, opts Options, log logging.Logger) *Queue {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultOptions().MaxSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions().MaxDelay
	}
	return &Queue{
		repo: repo,
		opts: opts,
		log:  log,
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Enqueue persists a pending save. The operation is durable once Enqueue
// returns; a full queue fails loudly instead of evicting older work.
func (q *Queue) Enqueue(ctx context.Context, documentID string, payload []byte, expectedRevision int64) (*Operation, error) {
	n, err := q.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if n >= q.opts.MaxSize {
		return nil, fmt.Errorf("enqueue %s: %d pending: %w", documentID, n, common.ErrQueueFull)
	}

	op := &Operation{
		ID:               uuid.NewString(),
		DocumentID:       documentID,
		Payload:          payload,
		ExpectedRevision: expectedRevision,
		CreatedAt:        q.now().UTC(),
	}
	if err := q.repo.Insert(ctx, op); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", documentID, err)
	}

	q.log.Info(ctx, "operation queued", "operation_id", op.ID, "document_id", documentID, "pending", n+1)
	return op, nil
}

// backoffDelay computes the delay before attempt (1-based) using the
// shared exponential schedule.
func (q *Queue) backoffDelay(attempt int) time.Duration {
	b := retry.WithCappedDuration(q.opts.MaxDelay, retry.NewExponential(q.opts.BaseDelay))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}

// Process drains every due operation once. Operations for the same document
// run in FIFO order; different documents drain concurrently. Failures feed
// the backoff schedule; exhausted or conflicted operations dead-letter. A
// document whose head operation is still backing off is skipped entirely,
// replaying a later operation first would reorder its edits.
func (q *Queue) Process(ctx context.Context, commit CommitFunc) error {
	all, err := q.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("process queue: %w", err)
	}
	if len(all) == 0 {
		return nil
	}
	now := q.now()

	perDocument := make(map[string][]*Operation)
	var order []string
	for _, op := range all {
		if _, seen := perDocument[op.DocumentID]; !seen {
			order = append(order, op.DocumentID)
		}
		perDocument[op.DocumentID] = append(perDocument[op.DocumentID], op)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, documentID := range order {
		ops := duePrefix(perDocument[documentID], now)
		if len(ops) == 0 {
			continue
		}
		g.Go(func() error {
			for _, op := range ops {
				pending, err := q.processOne(ctx, op, commit)
				if err != nil {
					return err
				}
				if pending {
					// The operation stayed queued with a later retry
					// time; everything behind it must wait its turn.
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// duePrefix returns the leading run of operations already past their retry
// time.
func duePrefix(ops []*Operation, now time.Time) []*Operation {
	for i, op := range ops {
		if op.NextRetryAt.After(now) {
			return ops[:i]
		}
	}
	return ops
}

// processOne replays a single operation and records the outcome. It reports
// whether the operation is still pending (failed and rescheduled). Only
// repository failures propagate; commit failures are absorbed into retry
// state so one bad document cannot stall the drain.
func (q *Queue) processOne(ctx context.Context, op *Operation, commit CommitFunc) (bool, error) {
	err := commit(ctx, op)
	if err == nil {
		if err := q.repo.Delete(ctx, op.ID); err != nil {
			return false, err
		}
		q.log.Info(ctx, "queued operation committed", "operation_id", op.ID, "document_id", op.DocumentID)
		return false, nil
	}

	op.AttemptCount++

	// Conflicts are never retried automatically; they need a decision.
	if errors.Is(err, common.ErrRevisionConflict) {
		q.log.Warn(ctx, "queued operation conflicted, moving to dead letters",
			"operation_id", op.ID, "document_id", op.DocumentID, "error", err.Error())
		return false, q.repo.MoveToDeadLetter(ctx, op, err.Error(), q.now().UTC())
	}

	if op.AttemptCount >= q.opts.MaxAttempts {
		q.log.Warn(ctx, "queued operation exhausted retries, moving to dead letters",
			"operation_id", op.ID, "document_id", op.DocumentID, "attempts", op.AttemptCount, "error", err.Error())
		return false, q.repo.MoveToDeadLetter(ctx, op, err.Error(), q.now().UTC())
	}

	delay := q.backoffDelay(op.AttemptCount)
	op.NextRetryAt = q.now().Add(delay).UTC()
	q.log.Debug(ctx, "queued operation failed, retrying later",
		"operation_id", op.ID, "document_id", op.DocumentID,
		"attempt", op.AttemptCount, "retry_in", delay.String(), "error", err.Error())
	return true, q.repo.UpdateRetryState(ctx, op)
}

// Run drains the queue on every tick and whenever Wake is called, until the
// context is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration, commit CommitFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		if err := q.Process(ctx, commit); err != nil && !errors.Is(err, context.Canceled) {
			q.log.Error(ctx, "queue drain failed", "error", err.Error())
		}
	}
}

// Wake nudges a running drain loop, typically on a network-reconnect
// signal. Non-blocking; coalesces with an already-pending wakeup.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// List returns pending operations in FIFO order.
func (q *Queue) List(ctx context.Context) ([]*Operation, error) {
	return q.repo.List(ctx)
}

// DeadLetters returns the dead-letter list, oldest failure first.
func (q *Queue) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	return q.repo.DeadLetters(ctx)
}

// Retry moves a dead letter back into the active queue with a fresh
// attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	if err := q.repo.Requeue(ctx, id, q.now().UTC()); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	q.Wake()
	return nil
}

// ClearDeadLetters discards every dead letter. Explicit operator action;
// nothing else ever deletes them.
func (q *Queue) ClearDeadLetters(ctx context.Context) error {
	return q.repo.ClearDeadLetters(ctx)
}

// Stats reports pending and dead-letter counts.
func (q *Queue) Stats(ctx context.Context) (queued int, deadLettered int, err error) {
	queued, err = q.repo.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	deadLettered, err = q.repo.DeadLetterCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return queued, deadLettered, nil
}

// Maintain applies the configured dead-letter retention policy.
func (q *Queue) Maintain(ctx context.Context) error {
	if q.opts.MaxDeadLetterAge <= 0 {
		return nil
	}
	pruned, err := q.repo.PruneDeadLetters(ctx, q.now().Add(-q.opts.MaxDeadLetterAge).UTC())
	if err != nil {
		return fmt.Errorf("dead letter maintenance: %w", err)
	}
	if pruned > 0 {
		q.log.Info(ctx, "pruned expired dead letters", "count", pruned)
	}
	return nil
}

package queue

import (
	"context"
	"time"
)

// Repository persists queue state. Implementations must survive process
// restart; enqueued work is durable until explicitly removed.
type Repository interface {
	Insert(ctx context.Context, op *Operation) error

	// UpdateRetryState persists attempt count and next retry time after a
	// failed attempt.
	UpdateRetryState(ctx context.Context, op *Operation) error

	Delete(ctx context.Context, id string) error

	// List returns all pending operations in FIFO order.
	List(ctx context.Context) ([]*Operation, error)

	Count(ctx context.Context) (int, error)

	// MoveToDeadLetter atomically removes the operation from the active
	// queue and records it as a dead letter with the final error.
	MoveToDeadLetter(ctx context.Context, op *Operation, lastError string, failedAt time.Time) error

	DeadLetters(ctx context.Context) ([]*DeadLetter, error)

	DeadLetterCount(ctx context.Context) (int, error)

	// Requeue atomically moves a dead letter back into the active queue
	// with a reset attempt count. Returns common.ErrNotFound for an
	// unknown id.
	Requeue(ctx context.Context, id string, now time.Time) error

	ClearDeadLetters(ctx context.Context) error

	// PruneDeadLetters removes dead letters whose failure is older than
	// cutoff, returning how many were removed.
	PruneDeadLetters(ctx context.Context, cutoff time.Time) (int, error)
}

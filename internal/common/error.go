// Package common defines shared sentinel errors used across the sync
// engine's components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")

	// ErrRevisionConflict is returned when a guarded pointer update fails
	// because the stored revision no longer matches the expected one. The
	// engine wraps it into a resolver.ConflictError carrying both revisions.
	ErrRevisionConflict = errors.New("revision conflict")

	// Capacity errors. Surfaced immediately, never retried through the queue.
	ErrQueueFull        = errors.New("offline queue is full")
	ErrSnapshotTooLarge = errors.New("snapshot exceeds size cap")

	// ErrNoData is returned by load when both the remote store and the
	// local snapshot are unavailable.
	ErrNoData = errors.New("no data available")

	// ErrMalformedPayload marks payloads that fail to serialize or
	// deserialize. Fatal for the affected operation only.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrValueTooLarge is returned by the local store when an entry exceeds
	// the per-entry size ceiling.
	ErrValueTooLarge = errors.New("value exceeds per-entry size ceiling")
)

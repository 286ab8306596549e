// Package queue implements the persisted offline operation queue: pending
// saves that could not complete synchronously, retried with exponential
// backoff until they succeed or exhaust their attempts and land in the
// dead-letter list.
package queue

import "time"

// Operation is one pending save. Payload is the serialized document; the
// commit path re-derives the blob path from (document, revision), so
// replaying an operation after a partial failure is safe.
type Operation struct {
	ID         string
	DocumentID string
	Payload    []byte

	// ExpectedRevision is the pointer revision the save was issued
	// against. Replays re-check the store against it to detect commits
	// that landed despite a lost response.
	ExpectedRevision int64

	AttemptCount int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// DeadLetter is an operation that exhausted its retry budget or hit a
// conflict that needs an explicit decision. Never deleted automatically.
type DeadLetter struct {
	Operation
	FailedAt  time.Time
	LastError string
}

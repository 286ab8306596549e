// Package blob provides the object-store adapter for immutable,
// path-addressed document payload versions.
package blob

import "context"

// Store is the remote blob service consumed by the commit protocol.
// Paths are canonical storage keys, never time-limited URLs; read URLs
// are derived fresh per call via GetReadLocation.
type Store interface {
	// Put uploads data to path. Uploading the same bytes to the same path
	// again is a safe no-op, which makes commit retries idempotent.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get downloads the object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// GetReadLocation returns a freshly derived, time-limited read URL for
	// path. Callers must not cache it beyond the current operation.
	GetReadLocation(ctx context.Context, path string) (string, error)

	// Delete removes the object at path. Best-effort: orphaned blobs are
	// acceptable and cleaned up out of band.
	Delete(ctx context.Context, path string) error
}

// Package revision implements the revision clock: derivation and validation
// of the monotonically increasing version counter that orders document
// commits, and the deterministic blob path layout derived from it.
package revision

import (
	"fmt"
)

// Initial is the revision of a document that has never been committed.
const Initial int64 = 0

// Next returns the revision a commit against expected should produce.
func Next(expected int64) int64 {
	return expected + 1
}

// Validate reports whether rev is a legal revision value.
func Validate(rev int64) error {
	if rev < 0 {
		return fmt.Errorf("revision must be non-negative, got %d", rev)
	}
	return nil
}

// ValidateSuccessor checks that next is the immediate successor of current.
// Committed revisions are strictly increasing with no gaps.
func ValidateSuccessor(current, next int64) error {
	if err := Validate(current); err != nil {
		return err
	}
	if next != current+1 {
		return fmt.Errorf("revision %d does not succeed %d", next, current)
	}
	return nil
}

// BlobPath derives the canonical object-store path for a document revision.
// The derivation is deterministic so that retries of the same logical commit
// re-upload to the same path, making replays idempotent.
func BlobPath(documentID string, rev int64) string {
	return fmt.Sprintf("documents/%s/v%d", documentID, rev)
}

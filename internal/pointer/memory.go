package pointer

import (
	"context"
	"fmt"
	"sync"

	"github.com/studioflow/docsync/internal/common"
)

// MemoryStore is an in-memory Store for tests and offline development.
// The guard in ConditionalSet runs under one lock, preserving the
// at-most-one-winner semantics of the real store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Metadata

	// Err, when non-nil, is returned by every operation.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Metadata)}
}

func (m *MemoryStore) Get(ctx context.Context, documentID string) (*Metadata, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[documentID]
	if !ok {
		return nil, fmt.Errorf("pointer %s: %w", documentID, common.ErrNotFound)
	}
	return &rec, nil
}

func (m *MemoryStore) ConditionalSet(ctx context.Context, rec Metadata, expectedRevision int64) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[rec.DocumentID]
	if !exists {
		if expectedRevision != 0 {
			return &RevisionMismatchError{Actual: 0}
		}
		m.records[rec.DocumentID] = rec
		return nil
	}
	if current.Revision != expectedRevision {
		return &RevisionMismatchError{Actual: current.Revision}
	}
	m.records[rec.DocumentID] = rec
	return nil
}

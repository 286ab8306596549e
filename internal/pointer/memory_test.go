package pointer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioflow/docsync/internal/common"
)

func rec(id string, revision int64) Metadata {
	return Metadata{
		DocumentID: id,
		BlobPath:   "documents/" + id + "/vN",
		Revision:   revision,
		SizeBytes:  1,
		SyncedAt:   time.Now(),
	}
}

func TestMemoryStore_FirstCommitThenGet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.ConditionalSet(ctx, rec("doc-1", 1), 0))

	got, err := m.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
}

func TestMemoryStore_GetUnknownDocument(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore_StaleExpectedRevisionConflicts(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.ConditionalSet(ctx, rec("doc-1", 1), 0))
	require.NoError(t, m.ConditionalSet(ctx, rec("doc-1", 2), 1))

	err := m.ConditionalSet(ctx, rec("doc-1", 2), 1)
	var mismatch *RevisionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(2), mismatch.Actual)
}

func TestMemoryStore_AtMostOneWinner(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.ConditionalSet(ctx, rec("doc-1", 5), 0))

	// Both devices loaded revision 5 and race their commits.
	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ConditionalSet(ctx, rec("doc-1", 6), 5)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, common.ErrRevisionConflict)
		}
	}
	assert.Equal(t, 1, winners)

	got, err := m.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Revision)
}

package pointer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioflow/docsync/internal/common"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresStore(db), mock, db
}

func testRecord() Metadata {
	return Metadata{
		DocumentID: "doc-1",
		BlobPath:   "documents/doc-1/v6",
		Revision:   6,
		SizeBytes:  1024,
		SyncedAt:   time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestConditionalSet_UpdateSuccess(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	rec := testRecord()
	mock.ExpectExec(`UPDATE document_pointers\s+SET .* WHERE document_id = \$1 AND revision = \$6;`).
		WithArgs(rec.DocumentID, rec.BlobPath, rec.Revision, rec.SizeBytes, rec.SyncedAt, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ConditionalSet(context.Background(), rec, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalSet_GuardFailureReturnsMismatchWithActual(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	rec := testRecord()
	mock.ExpectExec(`UPDATE document_pointers`).
		WithArgs(rec.DocumentID, rec.BlobPath, rec.Revision, rec.SizeBytes, rec.SyncedAt, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"document_id", "blob_path", "revision", "size_bytes", "synced_at"}).
		AddRow("doc-1", "documents/doc-1/v7", int64(7), int64(2048), time.Now())
	mock.ExpectQuery(`SELECT document_id, blob_path, revision, size_bytes, synced_at\s+FROM document_pointers`).
		WithArgs("doc-1").
		WillReturnRows(rows)

	err := store.ConditionalSet(context.Background(), rec, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRevisionConflict)

	var mismatch *RevisionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(7), mismatch.Actual)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalSet_FirstCommitInsert(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	rec := testRecord()
	rec.Revision = 1
	rec.BlobPath = "documents/doc-1/v1"

	mock.ExpectExec(`INSERT INTO document_pointers .* ON CONFLICT \(document_id\) DO NOTHING;`).
		WithArgs(rec.DocumentID, rec.BlobPath, rec.Revision, rec.SizeBytes, rec.SyncedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ConditionalSet(context.Background(), rec, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalSet_FirstCommitLosesRace(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	rec := testRecord()
	rec.Revision = 1

	mock.ExpectExec(`INSERT INTO document_pointers`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"document_id", "blob_path", "revision", "size_bytes", "synced_at"}).
		AddRow("doc-1", "documents/doc-1/v1", int64(1), int64(10), time.Now())
	mock.ExpectQuery(`SELECT document_id, blob_path, revision`).
		WithArgs("doc-1").
		WillReturnRows(rows)

	err := store.ConditionalSet(context.Background(), rec, 0)
	var mismatch *RevisionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(1), mismatch.Actual)
}

func TestConditionalSet_DBError(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE document_pointers`).
		WillReturnError(errors.New("connection refused"))

	err := store.ConditionalSet(context.Background(), testRecord(), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrRevisionConflict)
}

func TestGet_NotFound(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT document_id, blob_path, revision`).
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_ReturnsRecord(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	syncedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"document_id", "blob_path", "revision", "size_bytes", "synced_at"}).
		AddRow("doc-1", "documents/doc-1/v6", int64(6), int64(1024), syncedAt)
	mock.ExpectQuery(`SELECT document_id, blob_path, revision`).
		WithArgs("doc-1").
		WillReturnRows(rows)

	m, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), m.Revision)
	assert.Equal(t, "documents/doc-1/v6", m.BlobPath)
	assert.Equal(t, syncedAt, m.SyncedAt)
}

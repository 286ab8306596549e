package pointer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/dbx"
	"github.com/studioflow/docsync/internal/pointer/migrations"
)

// PostgresStore implements Store over a dbx.DBTX (*sql.DB or *sql.Tx).
// The guard in ConditionalSet is a single statement, so Postgres itself is
// the ordering authority between devices that share no process mutex.
type PostgresStore struct {
	db dbx.DBTX
}

// NewPostgresStore constructs a store bound to the given DBTX.
func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to Postgres via the pgx stdlib driver and applies the
// embedded migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return db, nil
}

func (s *PostgresStore) Get(ctx context.Context, documentID string) (*Metadata, error) {
	query := `SELECT document_id, blob_path, revision, size_bytes, synced_at
		FROM document_pointers WHERE document_id = $1`

	var m Metadata
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&m.DocumentID, &m.BlobPath, &m.Revision, &m.SizeBytes, &m.SyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pointer %s: %w", documentID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pointer %s: %w", documentID, err)
	}
	return &m, nil
}

// ConditionalSet performs the guarded pointer flip. For a first commit
// (expectedRevision 0) the insert succeeds only if no row exists yet; for
// later commits a single UPDATE carries the revision guard in its WHERE
// clause. Rows-affected distinguishes success from conflict.
func (s *PostgresStore) ConditionalSet(ctx context.Context, rec Metadata, expectedRevision int64) error {
	var res sql.Result
	var err error

	if expectedRevision == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO document_pointers (document_id, blob_path, revision, size_bytes, synced_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id) DO NOTHING;
		`, rec.DocumentID, rec.BlobPath, rec.Revision, rec.SizeBytes, rec.SyncedAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE document_pointers
			SET blob_path = $2, revision = $3, size_bytes = $4, synced_at = $5
			WHERE document_id = $1 AND revision = $6;
		`, rec.DocumentID, rec.BlobPath, rec.Revision, rec.SizeBytes, rec.SyncedAt, expectedRevision)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return s.mismatch(ctx, rec.DocumentID)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// mismatch reads the revision that won so the caller can resolve against it.
func (s *PostgresStore) mismatch(ctx context.Context, documentID string) error {
	current, err := s.Get(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		// The row vanished between guard failure and this read; report the
		// store's revision as unknown-but-different.
		return &RevisionMismatchError{Actual: 0}
	}
	if err != nil {
		return err
	}
	return &RevisionMismatchError{Actual: current.Revision}
}

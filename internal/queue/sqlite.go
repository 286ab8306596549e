package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/studioflow/docsync/internal/common"
	"github.com/studioflow/docsync/internal/dbx"
)

// SQLiteRepository implements Repository over the local SQLite database.
// Timestamps are stored as unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *SQLiteRepository) Insert(ctx context.Context, op *Operation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, document_id, payload, expected_revision, attempt_count, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.DocumentID, op.Payload, op.ExpectedRevision, op.AttemptCount, toMillis(op.NextRetryAt), toMillis(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert operation %s: %w", op.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateRetryState(ctx context.Context, op *Operation) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET attempt_count = ?, next_retry_at = ? WHERE id = ?
	`, op.AttemptCount, toMillis(op.NextRetryAt), op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", op.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", op.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) scanOperations(rows *sql.Rows) ([]*Operation, error) {
	defer rows.Close()

	var result []*Operation
	for rows.Next() {
		var op Operation
		var nextRetryAt, createdAt int64
		if err := rows.Scan(&op.ID, &op.DocumentID, &op.Payload, &op.ExpectedRevision, &op.AttemptCount, &nextRetryAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.NextRetryAt = fromMillis(nextRetryAt)
		op.CreatedAt = fromMillis(createdAt)
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operation rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, payload, expected_revision, attempt_count, next_retry_at, created_at
		FROM sync_queue ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return r.scanOperations(rows)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) MoveToDeadLetter(ctx context.Context, op *Operation, lastError string, failedAt time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, op.ID)
		if err != nil {
			return fmt.Errorf("failed to remove operation %s: %w", op.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("operation %s: %w", op.ID, common.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, document_id, payload, expected_revision, attempt_count, created_at, failed_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, op.ID, op.DocumentID, op.Payload, op.ExpectedRevision, op.AttemptCount, toMillis(op.CreatedAt), toMillis(failedAt), lastError)
		if err != nil {
			return fmt.Errorf("failed to record dead letter %s: %w", op.ID, err)
		}
		return nil
	})
}

func (r *SQLiteRepository) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, payload, expected_revision, attempt_count, created_at, failed_at, last_error
		FROM dead_letters ORDER BY failed_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var result []*DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var createdAt, failedAt int64
		if err := rows.Scan(&dl.ID, &dl.DocumentID, &dl.Payload, &dl.ExpectedRevision, &dl.AttemptCount, &createdAt, &failedAt, &dl.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		dl.CreatedAt = fromMillis(createdAt)
		dl.FailedAt = fromMillis(failedAt)
		result = append(result, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var op Operation
		var createdAt int64
		err := tx.QueryRowContext(ctx, `
			SELECT id, document_id, payload, expected_revision, created_at FROM dead_letters WHERE id = ?
		`, id).Scan(&op.ID, &op.DocumentID, &op.Payload, &op.ExpectedRevision, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dead letter %s: %w", id, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get dead letter %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to remove dead letter %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_queue (id, document_id, payload, expected_revision, attempt_count, next_retry_at, created_at)
			VALUES (?, ?, ?, ?, 0, 0, ?)
		`, op.ID, op.DocumentID, op.Payload, op.ExpectedRevision, toMillis(requeueCreatedAt(createdAt, now)))
		if err != nil {
			return fmt.Errorf("failed to requeue %s: %w", id, err)
		}
		return nil
	})
}

// requeueCreatedAt preserves the original creation time when present so FIFO
// ordering survives a manual retry.
func requeueCreatedAt(storedMillis int64, now time.Time) time.Time {
	if storedMillis == 0 {
		return now
	}
	return fromMillis(storedMillis)
}

func (r *SQLiteRepository) ClearDeadLetters(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return fmt.Errorf("failed to clear dead letters: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PruneDeadLetters(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE failed_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return int(n), nil
}

package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupDB builds a queue-shaped schema so the transaction helper is
// exercised on the statements the repositories actually run: moving an
// operation between the active queue and the dead letters.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dbx_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_queue (id TEXT PRIMARY KEY, payload BLOB NOT NULL);
		CREATE TABLE IF NOT EXISTS dead_letters (id TEXT PRIMARY KEY, payload BLOB NOT NULL);
		DELETE FROM sync_queue;
		DELETE FROM dead_letters;
	`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sync_queue (id, payload) VALUES ('op-1', 'edit')`)
	require.NoError(t, err)
	return db
}

func tableCount(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func moveToDeadLetters(ctx context.Context, tx DBTX) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = 'op-1'`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO dead_letters (id, payload) VALUES ('op-1', 'edit')`)
	return err
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, moveToDeadLetters)
	require.NoError(t, err)
	require.Equal(t, 0, tableCount(t, db, "sync_queue"))
	require.Equal(t, 1, tableCount(t, db, "dead_letters"))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := moveToDeadLetters(ctx, tx); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	// Neither half of the move may stick.
	require.Equal(t, 1, tableCount(t, db, "sync_queue"))
	require.Equal(t, 0, tableCount(t, db, "dead_letters"))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 1, tableCount(t, db, "sync_queue"), "must rollback on panic")
		require.Equal(t, 0, tableCount(t, db, "dead_letters"))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := moveToDeadLetters(ctx, tx); err != nil {
			return err
		}
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err, "begin should fail when DB is closed")
}

// Package localstore provides the device-local persistence layer: a SQLite
// database holding the key-value snapshot entries and the offline queue.
// It survives process restart but is not assumed durable across device
// loss; the remote stores are the system of record.
package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/studioflow/docsync/internal/localstore/migrations"
)

// Open opens (creating if needed) the local SQLite database at dsn and
// applies the embedded migrations. Use ":memory:" in tests.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("local db open error: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("local migration error: %w", err)
	}

	return db, nil
}

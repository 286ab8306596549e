// Package migrations embeds the goose migrations for the device-local
// SQLite schema (key-value entries, offline queue, dead letters).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

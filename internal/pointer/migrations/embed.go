// Package migrations embeds the goose migrations for the Postgres pointer
// store schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

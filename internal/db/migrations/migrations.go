// Package migrations embeds the goose SQL migrations applied by db.Migrate.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

// Package migrations embeds the numbered SQL files applied to every tenant
// schema by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

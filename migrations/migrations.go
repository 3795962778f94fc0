// Package migrations embeds the schema migration files so the migrate
// command works from a single binary with no files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

package migrations

import "embed"

// FS contains embedded SQLite migrations for room session storage.
//
//go:embed *.sql
var FS embed.FS

package migrations

import "embed"

// FS contains the goose migrations for the dispatch tables.
//
//go:embed *.sql
var FS embed.FS

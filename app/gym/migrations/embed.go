// Package migrations embeds the gym schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

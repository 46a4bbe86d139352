// Package migrations embeds the event store schema.
package migrations

import "embed"

// FS holds the SQL migrations applied on open.
//
//go:embed *.sql
var FS embed.FS

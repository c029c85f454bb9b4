// Package migrations embeds the job ledger schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

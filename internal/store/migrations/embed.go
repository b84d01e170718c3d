// Package migrations embeds the SQL migration files for the local cache.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

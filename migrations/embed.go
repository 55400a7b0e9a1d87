// Package migrations embeds the SQL schema of the purchasing service.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS

// Package migrations embeds the versioned SQL schema applied by goose.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS

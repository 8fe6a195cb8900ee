// Package migrations embeds the SQL schema migrations into the binary so
// the service can bring a fresh database up to date without shipping the
// files alongside it.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS

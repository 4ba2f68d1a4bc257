// Package migrations embeds the versioned SQL applied by `migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

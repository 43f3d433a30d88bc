// Package migrations embeds the shared store schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

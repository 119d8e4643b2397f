// Package migrations embeds the actor snapshot schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

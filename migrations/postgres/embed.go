// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contiene las migraciones del backend postgres del slot store.
//
//go:embed *.sql
var FS embed.FS

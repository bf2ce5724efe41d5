// Package migrations embeds the goose migration set applied by
// pgstore.RunMigrations, mirroring dmitrijs2005-gophkeeper's
// internal/server/migrations package.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

// Package skylog embeds the archive schema migrations.
package skylog

import "embed"

//go:embed migrations/*.sql
var MigrationsFS embed.FS

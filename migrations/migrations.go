// Package migrations embeds the PostgreSQL schema scripts run by goose.
package migrations

import "embed"

// Dir is the directory inside FS that holds the scripts.
const Dir = "sql"

//go:embed sql/*.sql
var FS embed.FS

// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import "embed"

// FS holds the PostgreSQL migrations (e.g. 001_log_entries.sql).
//
//go:embed *.sql
var FS embed.FS

// SQLiteFS holds the SQLite schema under the sqlite/ directory.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS

// Package migrations holds the additive schema changes applied to a wok
// database on every daemon boot. Apply records each applied migration's
// name in schema_migrations and skips it afterwards; the statements are
// also idempotent on their own (CREATE ... IF NOT EXISTS, or an UPDATE
// that matches nothing once applied), so re-running the full set against
// an already-migrated database is always a no-op (§4.4).
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration is one additive schema change. Name is persisted to
// schema_migrations and must never be reused once released.
type Migration struct {
	Name string
	Run  func(db *sql.DB) error
}

// All is the ordered list of migrations. Order matters: later migrations
// may assume earlier ones have already run.
var All = []Migration{
	{Name: "001_initial_schema", Run: InitialSchema},
	{Name: "002_tracked_by_rewrite", Run: TrackedByRewrite},
}

// Apply runs every migration in All that is not already recorded in
// schema_migrations, in order, each inside its own transaction.
func Apply(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("migrations: create schema_migrations: %w", err)
	}

	for _, m := range All {
		var done bool
		err := db.QueryRow(`SELECT COUNT(*) > 0 FROM schema_migrations WHERE name = ?`, m.Name).Scan(&done)
		if err != nil {
			return fmt.Errorf("migrations: check %s: %w", m.Name, err)
		}
		if done {
			continue
		}
		if err := m.Run(db); err != nil {
			return fmt.Errorf("migrations: run %s: %w", m.Name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, m.Name); err != nil {
			return fmt.Errorf("migrations: record %s: %w", m.Name, err)
		}
	}
	return nil
}

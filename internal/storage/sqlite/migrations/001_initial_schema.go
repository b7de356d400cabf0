package migrations

import (
	"database/sql"
	"fmt"
)

// InitialSchema creates every table from §3 of the data model if this is
// a fresh database directory. CREATE TABLE IF NOT EXISTS makes the whole
// function idempotent without a separate existence check, matching the
// "additive, re-runnable" migration contract.
func InitialSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS issues (
			id                  TEXT PRIMARY KEY,
			type                TEXT NOT NULL,
			title               TEXT NOT NULL,
			description         TEXT,
			status              TEXT NOT NULL,
			assignee            TEXT,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL,
			closed_at           INTEGER,
			last_status_hlc      TEXT,
			last_title_hlc       TEXT,
			last_type_hlc        TEXT,
			last_description_hlc TEXT,
			last_assignee_hlc    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			label    TEXT NOT NULL,
			PRIMARY KEY (issue_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			status     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deps (
			from_id    TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			to_id      TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			rel        TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (from_id, to_id, rel)
		)`,
		`CREATE TABLE IF NOT EXISTS links (
			id          TEXT PRIMARY KEY,
			issue_id    TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			type        TEXT,
			url         TEXT,
			external_id TEXT,
			rel         TEXT,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
			action     TEXT NOT NULL,
			old        TEXT,
			new        TEXT,
			reason     TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prefixes (
			prefix      TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL,
			issue_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_type ON issues(type)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_to_id ON deps(to_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_issue_id ON notes(issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_issue_id ON events(issue_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

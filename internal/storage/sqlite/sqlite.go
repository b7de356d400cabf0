// Package sqlite implements the materialized cache (§4.4, C4): a local
// SQLite database holding the projected view of every issue, plus the
// per-field HLC high-water columns the merge engine (internal/merge)
// reads and writes. The daemon is the sole owner of the *sql.DB handle
// while it runs; CLIs never open this package directly, only through
// the daemon's IPC surface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/wok-oss/wok/internal/storage/sqlite/migrations"
)

// DB wraps a *sql.DB opened against a wok database file with the pragmas
// and migrations required by §4.4 already applied.
type DB struct {
	conn *sql.DB
}

// connString builds a modernc.org/sqlite DSN with the pragmas §4.4
// requires: WAL journaling, enforced foreign keys, and a busy timeout
// so concurrent readers never see "database is locked" under the
// daemon's single-writer model. Pragmas are expressed with the
// "_pragma=name(value)" query parameter convention the driver executes
// on every new connection.
func connString(path string, busyTimeout time.Duration) string {
	busyMs := int64(busyTimeout / time.Millisecond)
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)",
		path, busyMs,
	)
}

// defaultBusyTimeout is the 5 second window mandated by §4.4.
const defaultBusyTimeout = 5000 * time.Millisecond

// Open opens (creating if absent) the database at path, applies the
// required pragmas, and runs every pending migration. No locking is
// added here: *sql.DB is itself safe for concurrent use, and the single
// pooled connection set below runs one statement at a time.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", connString(path, defaultBusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single physical connection matches the daemon's single-writer
	// model and avoids modernc's per-connection pragma replay racing
	// against itself under database/sql's pool.
	conn.SetMaxOpenConns(1)

	if err := migrations.Apply(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}

	return &DB{conn: conn}, nil
}

// Migrate applies every migration in migrations.All that has not yet
// been recorded in schema_migrations, matching Open's own startup
// behavior. Exported separately so a long-lived daemon can re-run it
// against an already-open DB after an in-place binary upgrade, without
// needing to close and reopen the connection. ctx is accepted for
// cancellation parity with the rest of the package's blocking calls but
// is not otherwise consulted: migrations.Apply runs its statements
// synchronously and each one completes in well under a second.
func (d *DB) Migrate(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return migrations.Apply(d.conn)
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// escapeLike escapes the LIKE metacharacters % and _ in a user-supplied
// search fragment, per §4.4's search_issues contract.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

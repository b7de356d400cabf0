package migrations

import (
	"database/sql"
	"fmt"
)

// TrackedByRewrite rewrites the legacy "tracked_by" relation spelling to
// "tracked-by" in deps.rel (§4.4). Earlier builds of the replication
// protocol used the underscore form; the hyphenated form is canonical
// everywhere else (issue id suffixes, config keys), so this migration
// brings existing databases in line. Safe to re-run: once no row has
// the old spelling, the UPDATE matches zero rows.
func TrackedByRewrite(db *sql.DB) error {
	if _, err := db.Exec(`UPDATE deps SET rel = 'tracked-by' WHERE rel = 'tracked_by'`); err != nil {
		return fmt.Errorf("rewrite tracked_by: %w", err)
	}
	return nil
}

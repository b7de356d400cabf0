package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// RenamePrefixEverywhere implements §4.5's ConfigRename: every issue id
// under oldPrefix is rewritten to the equivalent newPrefix id, in every
// table that carries it as a foreign key, inside one transaction. The
// match is on the "oldPrefix-" boundary, not a bare LIKE 'oldPrefix%',
// so renaming "old" never touches an unrelated "older-1" (§8.9).
//
// Foreign keys are briefly disabled on this connection because the
// child tables are rewritten before issues.id itself, which
// foreign_keys=ON would otherwise reject mid-transaction; the pragma is
// restored before the connection is released, mirroring the teacher's
// own cross-table rename (queries_rename.go's UpdateIssueID).
func (d *DB) RenamePrefixEverywhere(oldPrefix, newPrefix string) error {
	ctx := context.Background()

	conn, err := d.conn.Conn(ctx)
	if err != nil {
		return wrapDBErrorf(err, "rename prefix %s -> %s: acquire connection", oldPrefix, newPrefix)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return wrapDBErrorf(err, "rename prefix %s -> %s: disable foreign keys", oldPrefix, newPrefix)
	}
	defer func() { _, _ = conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`) }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErrorf(err, "rename prefix %s -> %s: begin tx", oldPrefix, newPrefix)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := matchingIDs(ctx, tx, oldPrefix)
	if err != nil {
		return err
	}
	for _, id := range ids {
		newID := newPrefix + id[len(oldPrefix):]
		if err := renameIssueID(ctx, tx, id, newID); err != nil {
			return err
		}
	}
	if err := movePrefixRegistry(ctx, tx, oldPrefix, newPrefix, int64(len(ids))); err != nil {
		return err
	}

	return wrapDBErrorf(tx.Commit(), "rename prefix %s -> %s: commit", oldPrefix, newPrefix)
}

// matchingIDs finds every issue id belonging to prefix under the
// "prefix-" boundary (escapeLike guards against % and _ in prefix).
func matchingIDs(ctx context.Context, tx *sql.Tx, prefix string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM issues WHERE id LIKE ? ESCAPE '\'`, escapeLike(prefix+"-")+"%")
	if err != nil {
		return nil, wrapDBErrorf(err, "rename prefix %s: find matching issues", prefix)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErrorf(err, "rename prefix %s: scan issue id", prefix)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBErrorf(rows.Err(), "rename prefix %s: iterate matching issues", prefix)
}

// renameIssueID rewrites every reference to oldID across the schema,
// issues.id last so the FK-dependent tables settle first even with
// enforcement suspended.
func renameIssueID(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	stmts := []string{
		`UPDATE deps SET from_id = ? WHERE from_id = ?`,
		`UPDATE deps SET to_id = ? WHERE to_id = ?`,
		`UPDATE labels SET issue_id = ? WHERE issue_id = ?`,
		`UPDATE notes SET issue_id = ? WHERE issue_id = ?`,
		`UPDATE links SET issue_id = ? WHERE issue_id = ?`,
		`UPDATE events SET issue_id = ? WHERE issue_id = ?`,
		`UPDATE issues SET id = ? WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, newID, oldID); err != nil {
			return wrapDBErrorf(err, "rename issue %s -> %s", oldID, newID)
		}
	}
	return nil
}

// movePrefixRegistry transfers moved's count from oldPrefix's registry
// row to newPrefix's, creating the latter if it doesn't exist yet, then
// drops the now-empty oldPrefix row.
func movePrefixRegistry(ctx context.Context, tx *sql.Tx, oldPrefix, newPrefix string, moved int64) error {
	if moved > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prefixes (prefix, created_at, issue_count) VALUES (?, ?, ?)
			ON CONFLICT (prefix) DO UPDATE SET issue_count = issue_count + excluded.issue_count
		`, newPrefix, time.Now().UnixMilli(), moved)
		if err != nil {
			return wrapDBErrorf(err, "rename prefix %s -> %s: move registry", oldPrefix, newPrefix)
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM prefixes WHERE prefix = ?`, oldPrefix)
	return wrapDBErrorf(err, "rename prefix %s -> %s: drop old registry", oldPrefix, newPrefix)
}

package sqlite

// AppendEvent writes one row to the audit sink (§3.4). Every apply that
// changes visible state appends one (§4.5); id is caller-supplied so a
// redelivered op produces the same row rather than a duplicate.
func (d *DB) AppendEvent(id, issueID, action, old, new, reason string, createdAt int64) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO events (id, issue_id, action, old, new, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, issueID, action, old, new, reason, createdAt)
	return wrapDBErrorf(err, "append event %s for %s", action, issueID)
}

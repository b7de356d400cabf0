package sqlite

// EnsurePrefix registers prefix in the prefixes table on first sight and
// increments its issue_count on every subsequent CreateIssue under it
// (§3.4, §4.5), grounded on the teacher's SetConfig upsert idiom
// (INSERT ... ON CONFLICT DO UPDATE).
func (d *DB) EnsurePrefix(prefix string, createdAt int64) error {
	_, err := d.conn.Exec(`
		INSERT INTO prefixes (prefix, created_at, issue_count) VALUES (?, ?, 1)
		ON CONFLICT (prefix) DO UPDATE SET issue_count = issue_count + 1
	`, prefix, createdAt)
	return wrapDBErrorf(err, "ensure prefix %s", prefix)
}

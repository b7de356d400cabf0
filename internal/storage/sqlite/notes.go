package sqlite

// AddNote appends a note to id's ordered sequence (§3.4). Notes are
// append-only: there is no UpdateNote or RemoveNote because the op log
// carries no such payload. The note id is the op's own id, so a
// redelivered AddNote op is INSERT OR IGNOREd rather than erroring.
func (d *DB) AddNote(id, issueID, status, content string, createdAt int64) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO notes (id, issue_id, status, content, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, issueID, status, content, createdAt)
	return wrapDBErrorf(err, "add note %s to %s", id, issueID)
}

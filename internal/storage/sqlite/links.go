package sqlite

// AddLink attaches an external link to issueID. Redelivery of the same
// AddLink op is INSERT OR IGNOREd, same as AddNote.
func (d *DB) AddLink(id, issueID, typ, url, externalID, rel string, createdAt int64) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO links (id, issue_id, type, url, external_id, rel, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, issueID, typ, url, externalID, rel, createdAt)
	return wrapDBErrorf(err, "add link %s to %s", url, issueID)
}

// RemoveLink deletes a link by issue and URL (§4.5's URL-keyed remove,
// since RemoveLink carries no link id to target exactly). A missing
// link is a no-op.
func (d *DB) RemoveLink(issueID, url string) error {
	_, err := d.conn.Exec(`DELETE FROM links WHERE issue_id = ? AND url = ?`, issueID, url)
	return wrapDBErrorf(err, "remove link %s from %s", url, issueID)
}

package sqlite

// Labels returns every label attached to id, in no particular order.
func (d *DB) Labels(id string) ([]string, error) {
	rows, err := d.conn.Query(`SELECT label FROM labels WHERE issue_id = ?`, id)
	if err != nil {
		return nil, wrapDBErrorf(err, "list labels %s", id)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, wrapDBErrorf(err, "scan label %s", id)
		}
		labels = append(labels, l)
	}
	return labels, wrapDBErrorf(rows.Err(), "iterate labels %s", id)
}

// AddLabel attaches label to id. A duplicate is silently ignored: the
// (issue_id, label) primary key already dedupes, and the merge engine
// checks membership itself before calling this (§4.5).
func (d *DB) AddLabel(id, label string) error {
	_, err := d.conn.Exec(`INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, id, label)
	return wrapDBErrorf(err, "add label %s to %s", label, id)
}

// RemoveLabel detaches label from id. A missing label is a no-op,
// matching the merge engine's duplicate-RemoveLabel tolerance (§4.5).
func (d *DB) RemoveLabel(id, label string) error {
	_, err := d.conn.Exec(`DELETE FROM labels WHERE issue_id = ? AND label = ?`, id, label)
	return wrapDBErrorf(err, "remove label %s from %s", label, id)
}

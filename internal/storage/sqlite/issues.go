package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/wokerrors"
)

// Issue is the projected row shape for the issues table (§3.3).
type Issue struct {
	ID                 string
	Type               op.IssueType
	Title              string
	Description        sql.NullString
	Status             op.Status
	Assignee           sql.NullString
	CreatedAt          int64
	UpdatedAt          int64
	ClosedAt           sql.NullInt64
	LastStatusHLC      sql.NullString
	LastTitleHLC       sql.NullString
	LastTypeHLC        sql.NullString
	LastDescriptionHLC sql.NullString
	LastAssigneeHLC    sql.NullString
}

// CreateIssue inserts a new row. Callers (the merge engine) are
// responsible for the first-writer-wins no-op check before calling
// this; CreateIssue itself errors on a primary key collision, per §4.4.
func (d *DB) CreateIssue(id string, typ op.IssueType, title string, createdAt int64, stamp hlc.Clock) error {
	s := stamp.String()
	_, err := d.conn.Exec(`
		INSERT INTO issues (
			id, type, title, status, created_at, updated_at,
			last_status_hlc, last_title_hlc, last_type_hlc, last_description_hlc, last_assignee_hlc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(typ), title, string(op.StatusTodo), createdAt, createdAt, s, s, s, s, s)
	return wrapDBErrorf(err, "create issue %s", id)
}

// GetIssue fetches a single issue by its exact id.
func (d *DB) GetIssue(id string) (*Issue, error) {
	row := d.conn.QueryRow(`
		SELECT id, type, title, description, status, assignee, created_at, updated_at, closed_at,
		       last_status_hlc, last_title_hlc, last_type_hlc, last_description_hlc, last_assignee_hlc
		FROM issues WHERE id = ?
	`, id)
	var iss Issue
	var typ, status string
	err := row.Scan(&iss.ID, &typ, &iss.Title, &iss.Description, &status, &iss.Assignee,
		&iss.CreatedAt, &iss.UpdatedAt, &iss.ClosedAt,
		&iss.LastStatusHLC, &iss.LastTitleHLC, &iss.LastTypeHLC, &iss.LastDescriptionHLC, &iss.LastAssigneeHLC)
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue %s", id)
	}
	iss.Type = op.IssueType(typ)
	iss.Status = op.Status(status)
	return &iss, nil
}

// IssueExists is a cheap existence check used by the merge engine's
// CreateIssue first-writer-wins rule.
func (d *DB) IssueExists(id string) (bool, error) {
	var exists bool
	err := d.conn.QueryRow(`SELECT COUNT(*) > 0 FROM issues WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, wrapDBErrorf(err, "check issue exists %s", id)
	}
	return exists, nil
}

// UpdateStatus sets status, bumps updated_at, and stamps last_status_hlc.
// If the new status is terminal, closed_at is set to closedAt; otherwise
// it is cleared, per §4.5.
func (d *DB) UpdateStatus(id string, status op.Status, updatedAt int64, closedAt sql.NullInt64, stamp hlc.Clock) error {
	res, err := d.conn.Exec(`
		UPDATE issues SET status = ?, updated_at = ?, closed_at = ?, last_status_hlc = ? WHERE id = ?
	`, string(status), updatedAt, closedAt, stamp.String(), id)
	return checkRowUpdated(res, err, "update status", id)
}

// UpdateTitle sets title, bumps updated_at, and stamps last_title_hlc.
func (d *DB) UpdateTitle(id, title string, updatedAt int64, stamp hlc.Clock) error {
	res, err := d.conn.Exec(`
		UPDATE issues SET title = ?, updated_at = ?, last_title_hlc = ? WHERE id = ?
	`, title, updatedAt, stamp.String(), id)
	return checkRowUpdated(res, err, "update title", id)
}

// UpdateType sets type, bumps updated_at, and stamps last_type_hlc.
func (d *DB) UpdateType(id string, typ op.IssueType, updatedAt int64, stamp hlc.Clock) error {
	res, err := d.conn.Exec(`
		UPDATE issues SET type = ?, updated_at = ?, last_type_hlc = ? WHERE id = ?
	`, string(typ), updatedAt, stamp.String(), id)
	return checkRowUpdated(res, err, "update type", id)
}

// UpdateDescription sets description, bumps updated_at, and stamps
// last_description_hlc.
func (d *DB) UpdateDescription(id, description string, updatedAt int64, stamp hlc.Clock) error {
	res, err := d.conn.Exec(`
		UPDATE issues SET description = ?, updated_at = ?, last_description_hlc = ? WHERE id = ?
	`, description, updatedAt, stamp.String(), id)
	return checkRowUpdated(res, err, "update description", id)
}

// UpdateAssignee sets assignee (nil clears it), bumps updated_at, and
// stamps last_assignee_hlc.
func (d *DB) UpdateAssignee(id string, assignee *string, updatedAt int64, stamp hlc.Clock) error {
	var a sql.NullString
	if assignee != nil {
		a = sql.NullString{String: *assignee, Valid: true}
	}
	res, err := d.conn.Exec(`
		UPDATE issues SET assignee = ?, updated_at = ?, last_assignee_hlc = ? WHERE id = ?
	`, a, updatedAt, stamp.String(), id)
	return checkRowUpdated(res, err, "update assignee", id)
}

func checkRowUpdated(res sql.Result, err error, op, id string) error {
	if err != nil {
		return wrapDBErrorf(err, "%s %s", op, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "%s %s: rows affected", op, id)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, wokerrors.ErrIssueNotFound)
	}
	return nil
}

// FieldHLC reads back one of the five per-field high-water columns,
// used by the merge engine's "apply iff strictly greater" comparisons.
func (d *DB) FieldHLC(id, column string) (hlc.Clock, bool, error) {
	var s sql.NullString
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE id = ?`, column) // #nosec G202 -- column is a fixed internal constant, never user input
	if err := d.conn.QueryRow(query, id).Scan(&s); err != nil {
		return hlc.Clock{}, false, wrapDBErrorf(err, "read %s for %s", column, id)
	}
	if !s.Valid || s.String == "" {
		return hlc.Clock{}, false, nil
	}
	c, err := hlc.Parse(s.String)
	if err != nil {
		return hlc.Clock{}, false, &wokerrors.CorruptedDataError{Table: "issues", Column: column, Value: s.String, Err: err}
	}
	return c, true, nil
}

// ResolveID implements §4.4's resolve_id: an exact match wins outright;
// otherwise, for partials of length >= 3, a prefix LIKE scan decides
// NotFound / Ok / Ambiguous.
func (d *DB) ResolveID(partial string) (string, error) {
	exists, err := d.IssueExists(partial)
	if err != nil {
		return "", err
	}
	if exists {
		return partial, nil
	}
	if len(partial) < 3 {
		return "", wokerrors.ErrIssueNotFound
	}

	rows, err := d.conn.Query(`SELECT id FROM issues WHERE id LIKE ? ESCAPE '\' ORDER BY id`, escapeLike(partial)+"%")
	if err != nil {
		return "", wrapDBErrorf(err, "resolve id %s", partial)
	}
	defer func() { _ = rows.Close() }()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", wrapDBErrorf(err, "scan resolve id %s", partial)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", wrapDBErrorf(err, "iterate resolve id %s", partial)
	}

	switch len(matches) {
	case 0:
		return "", wokerrors.ErrIssueNotFound
	case 1:
		return matches[0], nil
	default:
		return "", &wokerrors.AmbiguousIDError{Partial: partial, Matches: matches}
	}
}

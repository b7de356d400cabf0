package sqlite

import (
	"database/sql"
	"strings"

	"github.com/wok-oss/wok/internal/op"
)

// ListFilter narrows ListIssues; zero-valued fields are unfiltered.
type ListFilter struct {
	Status op.Status
	Type   op.IssueType
	Label  string
}

// ListIssues implements §4.4's list_issues: optional status/type/label
// filters, joined against labels only when a label filter is present,
// ordered newest-first by created_at.
func (d *DB) ListIssues(f ListFilter) ([]Issue, error) {
	query := `SELECT DISTINCT i.id, i.type, i.title, i.description, i.status, i.assignee,
	       i.created_at, i.updated_at, i.closed_at,
	       i.last_status_hlc, i.last_title_hlc, i.last_type_hlc, i.last_description_hlc, i.last_assignee_hlc
	FROM issues i`
	var (
		conds []string
		args  []any
	)
	if f.Label != "" {
		query += ` JOIN labels l ON l.issue_id = i.id`
		conds = append(conds, "l.label = ?")
		args = append(args, f.Label)
	}
	if f.Status != "" {
		conds = append(conds, "i.status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "i.type = ?")
		args = append(args, string(f.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY i.created_at DESC"

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, wrapDBError("list issues", err)
	}
	defer func() { _ = rows.Close() }()
	return scanIssues(rows)
}

// SearchIssues implements §4.4's search_issues: a case-insensitive LIKE
// across title/description/assignee/notes/labels/links, with the needle
// escaped so literal % and _ in user input do not act as wildcards.
func (d *DB) SearchIssues(q string) ([]Issue, error) {
	needle := "%" + escapeLike(q) + "%"
	rows, err := d.conn.Query(`
		SELECT DISTINCT i.id, i.type, i.title, i.description, i.status, i.assignee,
		       i.created_at, i.updated_at, i.closed_at,
		       i.last_status_hlc, i.last_title_hlc, i.last_type_hlc, i.last_description_hlc, i.last_assignee_hlc
		FROM issues i
		LEFT JOIN notes n ON n.issue_id = i.id
		LEFT JOIN labels l ON l.issue_id = i.id
		LEFT JOIN links lk ON lk.issue_id = i.id
		WHERE i.title LIKE ? ESCAPE '\'
		   OR i.description LIKE ? ESCAPE '\'
		   OR i.assignee LIKE ? ESCAPE '\'
		   OR n.content LIKE ? ESCAPE '\'
		   OR l.label LIKE ? ESCAPE '\'
		   OR lk.url LIKE ? ESCAPE '\'
		ORDER BY i.created_at DESC
	`, needle, needle, needle, needle, needle, needle)
	if err != nil {
		return nil, wrapDBError("search issues", err)
	}
	defer func() { _ = rows.Close() }()
	return scanIssues(rows)
}

func scanIssues(rows *sql.Rows) ([]Issue, error) {
	var out []Issue
	for rows.Next() {
		var iss Issue
		var typ, status string
		if err := rows.Scan(&iss.ID, &typ, &iss.Title, &iss.Description, &status, &iss.Assignee,
			&iss.CreatedAt, &iss.UpdatedAt, &iss.ClosedAt,
			&iss.LastStatusHLC, &iss.LastTitleHLC, &iss.LastTypeHLC, &iss.LastDescriptionHLC, &iss.LastAssigneeHLC); err != nil {
			return nil, wrapDBError("scan issue row", err)
		}
		iss.Type = op.IssueType(typ)
		iss.Status = op.Status(status)
		out = append(out, iss)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate issue rows", err)
	}
	return out, nil
}

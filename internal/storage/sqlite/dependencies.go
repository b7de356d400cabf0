package sqlite

import (
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/wokerrors"
)

// AddDependency implements §4.4's add_dependency: self-edges are
// rejected outright, and a "blocks" edge is rejected if it would close
// a cycle, detected with a recursive CTE that walks existing "blocks"
// edges from "to" and asks whether "from" is reachable.
func (d *DB) AddDependency(from, to string, rel op.Relation, createdAt int64) error {
	if from == to {
		return wokerrors.ErrSelfDependency
	}
	if rel == op.RelBlocks {
		cyclic, err := d.wouldCycle(from, to)
		if err != nil {
			return err
		}
		if cyclic {
			return wokerrors.ErrCycleDetected
		}
	}
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO deps (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)
	`, from, to, string(rel), createdAt)
	return wrapDBErrorf(err, "add dependency %s -> %s", from, to)
}

// wouldCycle reports whether adding a "blocks" edge from -> to would
// create a cycle, i.e. whether "from" is already reachable from "to"
// via existing "blocks" edges.
func (d *DB) wouldCycle(from, to string) (bool, error) {
	var reachable bool
	err := d.conn.QueryRow(`
		WITH RECURSIVE reach(id) AS (
			SELECT to_id FROM deps WHERE from_id = ? AND rel = 'blocks'
			UNION
			SELECT deps.to_id FROM deps JOIN reach ON deps.from_id = reach.id WHERE deps.rel = 'blocks'
		)
		SELECT COUNT(*) > 0 FROM reach WHERE id = ?
	`, to, from).Scan(&reachable)
	if err != nil {
		return false, wrapDBErrorf(err, "cycle check %s -> %s", from, to)
	}
	return reachable, nil
}

// RemoveDependency deletes an edge; a missing edge is a no-op, matching
// the merge engine's duplicate-RemoveDep tolerance (§4.5).
func (d *DB) RemoveDependency(from, to string, rel op.Relation) error {
	_, err := d.conn.Exec(`DELETE FROM deps WHERE from_id = ? AND to_id = ? AND rel = ?`, from, to, string(rel))
	return wrapDBErrorf(err, "remove dependency %s -> %s", from, to)
}

// GetBlockedIssueIDs implements §4.4's get_blocked_issue_ids: every
// issue transitively blocked by at least one open ("todo" or
// "in_progress") blocker. SQLite's UNION (not UNION ALL) deduplicates
// the recursive set, which is what guarantees termination even if
// label/dependency data somehow contains a cycle outside "blocks".
func (d *DB) GetBlockedIssueIDs() ([]string, error) {
	rows, err := d.conn.Query(`
		WITH RECURSIVE blocked(id) AS (
			SELECT d.from_id
			FROM deps d
			JOIN issues blocker ON blocker.id = d.to_id
			WHERE d.rel = 'blocks' AND blocker.status IN ('todo', 'in_progress')
			UNION
			SELECT d.from_id
			FROM deps d
			JOIN blocked ON blocked.id = d.to_id
			WHERE d.rel = 'blocks'
		)
		SELECT DISTINCT id FROM blocked
	`)
	if err != nil {
		return nil, wrapDBError("get blocked issue ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan blocked issue id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBError("iterate blocked issue ids", rows.Err())
}

// GetTransitiveBlockers implements §4.4's get_transitive_blockers: only
// open blockers are returned, matching get_blocked_issue_ids' notion of
// "blocked".
func (d *DB) GetTransitiveBlockers(id string) ([]string, error) {
	rows, err := d.conn.Query(`
		WITH RECURSIVE blockers(id) AS (
			SELECT d.to_id
			FROM deps d
			JOIN issues blocker ON blocker.id = d.to_id
			WHERE d.rel = 'blocks' AND d.from_id = ? AND blocker.status IN ('todo', 'in_progress')
			UNION
			SELECT d.to_id
			FROM deps d
			JOIN blockers ON blockers.id = d.from_id
			JOIN issues blocker ON blocker.id = d.to_id
			WHERE d.rel = 'blocks' AND blocker.status IN ('todo', 'in_progress')
		)
		SELECT DISTINCT id FROM blockers
	`, id)
	if err != nil {
		return nil, wrapDBErrorf(err, "get transitive blockers %s", id)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var bid string
		if err := rows.Scan(&bid); err != nil {
			return nil, wrapDBError("scan transitive blocker", err)
		}
		ids = append(ids, bid)
	}
	return ids, wrapDBError("iterate transitive blockers", rows.Err())
}

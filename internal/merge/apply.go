// Package merge implements the merge engine (§4.5, C5): applying a
// single Op to the SQLite cache according to per-field last-writer-wins
// rules, with Op.id doubling as merge priority. Apply is idempotent and
// commutative within the limits §4.5 and §8 spell out; ApplyAll sorts
// its input by id first so that folding the same op set in any order
// produces the same database state.
package merge

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

// Apply folds a single Op into db and reports whether it changed
// anything. A false return with a nil error means the op was a no-op
// under the rules in §4.5 (already applied, superseded by a later
// write, or targeting a missing issue) — not a failure.
func Apply(db *sqlite.DB, o op.Op) (bool, error) {
	switch p := o.Payload.(type) {
	case op.CreateIssue:
		return applyCreateIssue(db, o, p)
	case op.SetStatus:
		return applySetStatus(db, o, p)
	case op.SetTitle:
		return applySetTitle(db, o, p)
	case op.SetType:
		return applySetType(db, o, p)
	case op.SetDescription:
		return applySetDescription(db, o, p)
	case op.SetAssignee:
		return applySetAssignee(db, o, p)
	case op.AddLabel:
		return applyAddLabel(db, o, p)
	case op.RemoveLabel:
		return applyRemoveLabel(db, o, p)
	case op.AddNote:
		return applyAddNote(db, o, p)
	case op.AddDep:
		return applyAddDep(db, o, p)
	case op.RemoveDep:
		return applyRemoveDep(db, o, p)
	case op.AddLink:
		return applyAddLink(db, o, p)
	case op.RemoveLink:
		return applyRemoveLink(db, o, p)
	case op.ConfigRename:
		return applyConfigRename(db, p)
	default:
		return false, fmt.Errorf("merge: unhandled payload kind %q", o.Payload.Kind())
	}
}

// ApplyAll folds every op in ops into db, sorted by id first so the
// result is independent of the slice's original order (§4.5).
func ApplyAll(db *sqlite.DB, ops []op.Op) (applied int, err error) {
	sorted := make([]op.Op, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for _, o := range sorted {
		ok, err := Apply(db, o)
		if err != nil {
			return applied, fmt.Errorf("merge: apply %s: %w", o.ID, err)
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func applyCreateIssue(db *sqlite.DB, o op.Op, p op.CreateIssue) (bool, error) {
	exists, err := db.IssueExists(p.ID)
	if err != nil {
		return false, err
	}
	if exists {
		// First-writer-wins: once created, later CreateIssue ops for the
		// same id are no-ops regardless of their HLC (§4.5).
		return false, nil
	}
	wallMS := int64(o.ID.WallMS)
	if err := db.CreateIssue(p.ID, p.Type, p.Title, wallMS, o.ID); err != nil {
		return false, err
	}
	if err := db.EnsurePrefix(op.Prefix(p.ID), wallMS); err != nil {
		return false, err
	}
	return true, nil
}

func applySetStatus(db *sqlite.DB, o op.Op, p op.SetStatus) (bool, error) {
	iss, err := fetchOrNoop(db, p.ID)
	if err != nil || iss == nil {
		return false, err
	}
	cur, ok, err := db.FieldHLC(p.ID, "last_status_hlc")
	if err != nil {
		return false, err
	}
	if ok && !o.ID.After(cur) {
		return false, nil
	}
	wallMS := int64(o.ID.WallMS)
	var closedAt sql.NullInt64
	if p.Status.Terminal() {
		closedAt = sql.NullInt64{Int64: wallMS, Valid: true}
	}
	if err := db.UpdateStatus(p.ID, p.Status, wallMS, closedAt, o.ID); err != nil {
		return false, err
	}
	action := "status_changed"
	if p.Status.Terminal() {
		action = "closed"
	}
	eventID := o.ID.String()
	if err := db.AppendEvent(eventID, p.ID, action, string(iss.Status), string(p.Status), p.Reason, wallMS); err != nil {
		return false, err
	}
	return true, nil
}

func applySetTitle(db *sqlite.DB, o op.Op, p op.SetTitle) (bool, error) {
	return applyFieldLWW(db, p.ID, "last_title_hlc", o.ID, func() error {
		return db.UpdateTitle(p.ID, p.Title, int64(o.ID.WallMS), o.ID)
	})
}

func applySetType(db *sqlite.DB, o op.Op, p op.SetType) (bool, error) {
	return applyFieldLWW(db, p.ID, "last_type_hlc", o.ID, func() error {
		return db.UpdateType(p.ID, p.Type, int64(o.ID.WallMS), o.ID)
	})
}

func applySetDescription(db *sqlite.DB, o op.Op, p op.SetDescription) (bool, error) {
	return applyFieldLWW(db, p.ID, "last_description_hlc", o.ID, func() error {
		return db.UpdateDescription(p.ID, p.Description, int64(o.ID.WallMS), o.ID)
	})
}

func applySetAssignee(db *sqlite.DB, o op.Op, p op.SetAssignee) (bool, error) {
	return applyFieldLWW(db, p.ID, "last_assignee_hlc", o.ID, func() error {
		return db.UpdateAssignee(p.ID, p.Assignee, int64(o.ID.WallMS), o.ID)
	})
}

// applyFieldLWW is the shared shape of every per-field LWW payload
// (§4.5): fetch the issue (no-op if absent), compare the incoming id to
// the field's high-water clock, apply iff strictly greater.
func applyFieldLWW(db *sqlite.DB, issueID, column string, id hlc.Clock, doUpdate func() error) (bool, error) {
	exists, err := db.IssueExists(issueID)
	if err != nil || !exists {
		return false, err
	}
	cur, ok, err := db.FieldHLC(issueID, column)
	if err != nil {
		return false, err
	}
	if ok && !id.After(cur) {
		return false, nil
	}
	if err := doUpdate(); err != nil {
		return false, err
	}
	return true, nil
}

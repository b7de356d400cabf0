package merge

import (
	"errors"

	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/wokerrors"
)

// fetchOrNoop fetches an issue, returning (nil, nil) if it does not
// exist so callers can treat a missing target as a no-op rather than an
// error, per §4.5's "fetch issue; if absent, no-op" rule.
func fetchOrNoop(db *sqlite.DB, id string) (*sqlite.Issue, error) {
	iss, err := db.GetIssue(id)
	if err != nil {
		if errors.Is(err, wokerrors.ErrIssueNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return iss, nil
}

func applyAddLabel(db *sqlite.DB, o op.Op, p op.AddLabel) (bool, error) {
	if iss, err := fetchOrNoop(db, p.ID); err != nil || iss == nil {
		return false, err
	}
	labels, err := db.Labels(p.ID)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l == p.Label {
			return false, nil
		}
	}
	if err := db.AddLabel(p.ID, p.Label); err != nil {
		return false, err
	}
	_ = db.AppendEvent(eventID(p.ID, "label:"+p.Label), p.ID, "labeled", "", p.Label, "", int64(o.ID.WallMS))
	return true, nil
}

func applyRemoveLabel(db *sqlite.DB, o op.Op, p op.RemoveLabel) (bool, error) {
	if iss, err := fetchOrNoop(db, p.ID); err != nil || iss == nil {
		return false, err
	}
	if err := db.RemoveLabel(p.ID, p.Label); err != nil {
		return false, err
	}
	_ = db.AppendEvent(eventID(p.ID, "unlabel:"+p.Label), p.ID, "unlabeled", p.Label, "", "", int64(o.ID.WallMS))
	return true, nil
}

func applyAddNote(db *sqlite.DB, o op.Op, p op.AddNote) (bool, error) {
	if iss, err := fetchOrNoop(db, p.ID); err != nil || iss == nil {
		return false, err
	}
	if err := db.AddNote(o.ID.String(), p.ID, p.Status, p.Content, int64(o.ID.WallMS)); err != nil {
		return false, err
	}
	return true, nil
}

func applyAddDep(db *sqlite.DB, o op.Op, p op.AddDep) (bool, error) {
	fromExists, err := db.IssueExists(p.From)
	if err != nil || !fromExists {
		return false, err
	}
	toExists, err := db.IssueExists(p.To)
	if err != nil || !toExists {
		return false, err
	}
	if err := db.AddDependency(p.From, p.To, p.Relation, int64(o.ID.WallMS)); err != nil {
		return false, err
	}
	return true, nil
}

func applyRemoveDep(db *sqlite.DB, o op.Op, p op.RemoveDep) (bool, error) {
	if err := db.RemoveDependency(p.From, p.To, p.Relation); err != nil {
		return false, err
	}
	return true, nil
}

func applyAddLink(db *sqlite.DB, o op.Op, p op.AddLink) (bool, error) {
	if iss, err := fetchOrNoop(db, p.ID); err != nil || iss == nil {
		return false, err
	}
	if err := db.AddLink(o.ID.String(), p.ID, p.Type, p.URL, p.ExternalID, p.Rel, int64(o.ID.WallMS)); err != nil {
		return false, err
	}
	return true, nil
}

func applyRemoveLink(db *sqlite.DB, o op.Op, p op.RemoveLink) (bool, error) {
	if err := db.RemoveLink(p.ID, p.URL); err != nil {
		return false, err
	}
	return true, nil
}

func applyConfigRename(db *sqlite.DB, p op.ConfigRename) (bool, error) {
	if err := db.RenamePrefixEverywhere(p.OldPrefix, p.NewPrefix); err != nil {
		return false, err
	}
	return true, nil
}

// eventID derives a stable, unique audit-row id from an issue id and a
// discriminator, since label events are not themselves HLC-stamped.
func eventID(issueID, discriminator string) string {
	return issueID + "#" + discriminator
}

package daemon

import (
	"errors"
	"fmt"

	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/wokerrors"
)

// IssueView is one query_result entry: the issue row plus its labels,
// a shape that matches what the CLI's show/list commands render
// directly without a second round trip for tags.
type IssueView struct {
	sqlite.Issue
	Labels []string `json:"labels"`
}

func (d *Daemon) handleQuery(q QueryOp) (interface{}, error) {
	return d.dedup.Execute(q, func() (interface{}, error) {
		switch q.Kind {
		case QueryGetIssue:
			return d.queryGetIssue(q.ID)
		case QueryListIssues:
			return d.queryListIssues(q.Filter)
		case QuerySearchIssues:
			return d.querySearchIssues(q.Text)
		case QueryResolveID:
			return d.queryResolveID(q.Partial)
		case QueryBlockedIssues:
			return d.queryBlockedIssues()
		default:
			return nil, fmt.Errorf("daemon: unknown query kind %q", q.Kind)
		}
	})
}

func (d *Daemon) withLabels(iss *sqlite.Issue) (IssueView, error) {
	labels, err := d.db.Labels(iss.ID)
	if err != nil {
		return IssueView{}, err
	}
	return IssueView{Issue: *iss, Labels: labels}, nil
}

func (d *Daemon) queryGetIssue(id string) (interface{}, error) {
	iss, err := d.db.GetIssue(id)
	if err != nil {
		return nil, err
	}
	return d.withLabels(iss)
}

func (d *Daemon) queryListIssues(f sqlite.ListFilter) (interface{}, error) {
	issues, err := d.db.ListIssues(f)
	if err != nil {
		return nil, err
	}
	return d.attachLabels(issues)
}

func (d *Daemon) querySearchIssues(text string) (interface{}, error) {
	issues, err := d.db.SearchIssues(text)
	if err != nil {
		return nil, err
	}
	return d.attachLabels(issues)
}

func (d *Daemon) attachLabels(issues []sqlite.Issue) ([]IssueView, error) {
	views := make([]IssueView, 0, len(issues))
	for i := range issues {
		v, err := d.withLabels(&issues[i])
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (d *Daemon) queryResolveID(partial string) (interface{}, error) {
	id, err := d.db.ResolveID(partial)
	if err != nil {
		var ambiguous *wokerrors.AmbiguousIDError
		if errors.As(err, &ambiguous) {
			return nil, ambiguous
		}
		return nil, err
	}
	return id, nil
}

func (d *Daemon) queryBlockedIssues() (interface{}, error) {
	ids, err := d.db.GetBlockedIssueIDs()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

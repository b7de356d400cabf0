package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/wok-oss/wok/internal/merge"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/wokerrors"
)

func (d *Daemon) handleMutate(m MutateOp) (interface{}, error) {
	switch m.Kind {
	case MutateSingleOp:
		if m.Payload == nil {
			return nil, fmt.Errorf("daemon: mutate request missing payload")
		}
		o, _, err := d.commitOp(m.Payload)
		if err != nil {
			return nil, err
		}
		return o.ID.String(), nil
	case MutateStartBulk:
		return d.bulkTransition(m.IDs, m.Reason, op.StatusInProgress, startableFrom)
	case MutateDoneBulk:
		return d.bulkTransition(m.IDs, m.Reason, op.StatusDone, doneableFrom)
	case MutateCloseBulk:
		return d.bulkTransition(m.IDs, m.Reason, op.StatusClosed, closeableFrom)
	case MutateReopenBulk:
		return d.bulkTransition(m.IDs, m.Reason, op.StatusTodo, reopenableFrom)
	default:
		return nil, fmt.Errorf("daemon: unknown mutate kind %q", m.Kind)
	}
}

// commitOp assigns the next local HLC to payload, appends the resulting
// Op to the oplog, folds it into the cache via the merge engine, and
// buffers it in the offline queue for the sync backend to pick up
// (§4.10's mutation path: advance -> construct -> append -> apply ->
// queue).
func (d *Daemon) commitOp(payload op.Payload) (op.Op, bool, error) {
	o := op.Op{ID: d.advance(), Payload: payload}
	if _, err := d.log.Append(o); err != nil {
		return o, false, fmt.Errorf("daemon: append oplog: %w", err)
	}
	applied, err := merge.Apply(d.db, o)
	if err != nil {
		return o, applied, fmt.Errorf("daemon: apply op: %w", err)
	}
	if applied {
		d.metrics.OpsApplied.Add(context.Background(), 1)
	}
	if err := d.q.Append(o); err != nil {
		return o, applied, fmt.Errorf("daemon: queue op: %w", err)
	}
	d.metrics.OpsQueued.Add(context.Background(), 1)
	return o, applied, nil
}

// startableFrom, doneableFrom, closeableFrom and reopenableFrom encode
// the issue status machine's valid bulk-transition origins (§3.3, §7
// scenario S4): start only leaves todo, done leaves either open state,
// close leaves anything not already closed, reopen only leaves a
// terminal state.
func startableFrom(s op.Status) bool  { return s == op.StatusTodo }
func doneableFrom(s op.Status) bool   { return s == op.StatusTodo || s == op.StatusInProgress }
func closeableFrom(s op.Status) bool  { return s != op.StatusClosed }
func reopenableFrom(s op.Status) bool { return s.Terminal() }

// bulkTransition fans MutateOp.IDs out to one SetStatus Op per
// transitionable id, and aggregates everything else into a
// wokerrors.PartialBulkFailure rather than failing the whole batch
// (§7 scenario S4): unknown ids and ids already past the requested
// transition are both reported, by id, with their own reasons.
func (d *Daemon) bulkTransition(ids []string, reason string, target op.Status, from func(op.Status) bool) (interface{}, error) {
	var (
		succeeded int
		failures  []wokerrors.TransitionFailure
		unknown   []string
	)

	for _, id := range ids {
		iss, err := d.db.GetIssue(id)
		if err != nil {
			if errors.Is(err, wokerrors.ErrIssueNotFound) {
				unknown = append(unknown, id)
				continue
			}
			return nil, err
		}
		if !from(iss.Status) {
			failures = append(failures, wokerrors.TransitionFailure{
				ID:     id,
				Reason: fmt.Sprintf("cannot transition from %s to %s", iss.Status, target),
			})
			continue
		}
		if _, _, err := d.commitOp(op.SetStatus{ID: id, Status: target, Reason: reason}); err != nil {
			return nil, err
		}
		succeeded++
	}

	failed := len(unknown) + len(failures)
	if failed == 0 {
		return succeeded, nil
	}
	return nil, &wokerrors.PartialBulkFailure{
		Succeeded:          succeeded,
		Failed:             failed,
		UnknownIDs:         unknown,
		TransitionFailures: failures,
	}
}

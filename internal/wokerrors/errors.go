// Package wokerrors implements the error taxonomy from spec §7: a small
// set of sentinel errors for membership-testable conditions, and typed
// detail structs for errors that need to carry payload (ambiguous id
// matches, partial bulk failures, corrupted rows).
package wokerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Check membership with errors.Is, not ==, since these
// are frequently wrapped with operation context via fmt.Errorf("%w").
var (
	ErrNotInitialized   = errors.New("wok: no daemon-dir and no work-dir found")
	ErrIssueNotFound    = errors.New("wok: issue not found")
	ErrInvalidTransition = errors.New("wok: invalid status transition")
	ErrInvalidPrefix    = errors.New("wok: invalid issue id prefix")
	ErrInvalidIssueType = errors.New("wok: invalid issue type")
	ErrInvalidStatus    = errors.New("wok: invalid status")
	ErrInvalidRelation  = errors.New("wok: invalid dependency relation")
	ErrInvalidAction    = errors.New("wok: invalid action")
	ErrInvalidTimestamp = errors.New("wok: invalid timestamp")
	ErrCycleDetected    = errors.New("wok: dependency cycle detected")
	ErrSelfDependency   = errors.New("wok: self dependency not allowed")
	ErrDependencyNotFound = errors.New("wok: dependency not found")
	ErrSync             = errors.New("wok: sync error")
	ErrDaemon           = errors.New("wok: daemon error")
	ErrIO               = errors.New("wok: io error")
	ErrConfig           = errors.New("wok: config error")
)

// AmbiguousIDError reports that a partial id resolved to more than one
// issue (§4.4 resolve_id).
type AmbiguousIDError struct {
	Partial string
	Matches []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("wok: %q is ambiguous, matches: %s", e.Partial, strings.Join(e.Matches, ", "))
}

// CorruptedDataError reports that a database row failed to parse. It
// propagates verbatim with the offending column and value so operators
// can inspect the row by hand (§7).
type CorruptedDataError struct {
	Table  string
	Column string
	Value  string
	Err    error
}

func (e *CorruptedDataError) Error() string {
	return fmt.Sprintf("wok: corrupted data in %s.%s = %q: %v", e.Table, e.Column, e.Value, e.Err)
}

func (e *CorruptedDataError) Unwrap() error { return e.Err }

// TransitionFailure is one entry in a PartialBulkFailure's per-id
// failure list.
type TransitionFailure struct {
	ID     string
	Reason string
}

// PartialBulkFailure is returned by bulk commands (start/done/close/
// reopen) that succeed on the valid subset of a requested id list and
// need to surface the rest structurally rather than failing the whole
// batch (§7, scenario S4).
type PartialBulkFailure struct {
	Succeeded          int
	Failed             int
	UnknownIDs         []string
	TransitionFailures []TransitionFailure
}

func (e *PartialBulkFailure) Error() string {
	return fmt.Sprintf("wok: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

// IsNotFound is a convenience wrapper over errors.Is for the common
// "does this failure mean the row doesn't exist" check.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIssueNotFound) || errors.Is(err, ErrDependencyNotFound)
}

// Package hlc implements the hybrid logical clock used to order every
// mutation in the replicated oplog (see internal/op).
package hlc

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a (wall_ms, counter, node_id) triple with lexicographic
// ordering. It doubles as a merge priority and, in its textual form, as
// a globally unique operation id.
type Clock struct {
	WallMS  uint64
	Counter uint32
	NodeID  uint32
}

// Zero is the smallest possible clock. It is used as the default "since"
// epoch for a fresh sync client that has never observed a server HLC.
var Zero = Clock{}

// Max is the largest possible clock, used as a sentinel sync epoch that
// will never be exceeded by a real event.
var Max = Clock{WallMS: ^uint64(0), Counter: ^uint32(0), NodeID: ^uint32(0)}

// Compare returns -1, 0, or 1 as c orders before, equal to, or after o.
// Ordering is strictly lexicographic on (WallMS, Counter, NodeID); the
// NodeID tiebreak is what makes convergence deterministic when two
// nodes race on the same wall clock and counter (see spec S1).
func (c Clock) Compare(o Clock) int {
	switch {
	case c.WallMS != o.WallMS:
		return cmpUint64(c.WallMS, o.WallMS)
	case c.Counter != o.Counter:
		return cmpUint32(c.Counter, o.Counter)
	default:
		return cmpUint32(c.NodeID, o.NodeID)
	}
}

// Less reports whether c orders strictly before o.
func (c Clock) Less(o Clock) bool { return c.Compare(o) < 0 }

// After reports whether c orders strictly after o.
func (c Clock) After(o Clock) bool { return c.Compare(o) > 0 }

func cmpUint64(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func cmpUint32(a, b uint32) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// New constructs a clock directly; callers that want the monotonicity
// guarantee should use Advance instead.
func New(wallMS uint64, counter uint32, nodeID uint32) Clock {
	return Clock{WallMS: wallMS, Counter: counter, NodeID: nodeID}
}

// Advance produces a clock strictly greater than prev for the given
// node, seeded from the node's current wall-clock reading nowMS. It is
// pure: it returns the new clock and mutates nothing; Source holds the
// state between calls.
//
// If nowMS is strictly past prev.WallMS, the new clock uses nowMS with a
// reset counter. Otherwise (nowMS equal to prev.WallMS, or behind it
// after clock skew or an NTP step) it keeps prev.WallMS and bumps the
// counter instead, preserving strict monotonicity without requiring
// nowMS to be trustworthy.
func Advance(prev Clock, nowMS uint64, nodeID uint32) Clock {
	if nowMS > prev.WallMS {
		return Clock{WallMS: nowMS, Counter: 0, NodeID: nodeID}
	}
	return Clock{WallMS: prev.WallMS, Counter: prev.Counter + 1, NodeID: nodeID}
}

// String renders the clock in its canonical textual form, a base-16
// encoding chosen so that byte-wise string ordering matches Compare.
// Each field is zero-padded to a fixed width: 16 hex digits for the
// 64-bit wall clock, 8 for the 32-bit counter and node id.
func (c Clock) String() string {
	return fmt.Sprintf("%016x.%08x.%08x", c.WallMS, c.Counter, c.NodeID)
}

// Parse reverses String. It rejects malformed input rather than
// returning a partially-populated clock, since a bad clock silently
// accepted here would corrupt merge ordering everywhere downstream.
func Parse(s string) (Clock, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Clock{}, fmt.Errorf("hlc: malformed clock %q: expected 3 dot-separated fields", s)
	}
	wall, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return Clock{}, fmt.Errorf("hlc: malformed wall field in %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Clock{}, fmt.Errorf("hlc: malformed counter field in %q: %w", s, err)
	}
	node, err := strconv.ParseUint(parts[2], 16, 32)
	if err != nil {
		return Clock{}, fmt.Errorf("hlc: malformed node field in %q: %w", s, err)
	}
	return Clock{WallMS: wall, Counter: uint32(counter), NodeID: uint32(node)}, nil
}

// MarshalJSON implements json.Marshaler, encoding the clock as its
// canonical string form so it round-trips through the oplog's JSONL
// lines and the sync wire protocol identically.
func (c Clock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Clock) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Source generates strictly monotonic clocks for a single node. It is
// the only stateful piece of the package and is not safe for concurrent
// use: it does no internal locking, so callers serialize access
// themselves (internal/daemon does so with Daemon.clockMu).
type Source struct {
	nodeID uint32
	last   Clock
	nowMS  func() uint64
}

// NewSource creates a clock source for nodeID. nowFn supplies the
// current wall-clock time in milliseconds; passing nil defaults to the
// real wall clock.
func NewSource(nodeID uint32, last Clock, nowFn func() uint64) *Source {
	if nowFn == nil {
		nowFn = defaultNowMS
	}
	return &Source{nodeID: nodeID, last: last, nowMS: nowFn}
}

// Now advances and returns the source's clock.
func (s *Source) Now() Clock {
	s.last = Advance(s.last, s.nowMS(), s.nodeID)
	return s.last
}

// Observe folds an externally-received clock into the source so that a
// subsequent Now() call never regresses behind ops seen from peers.
func (s *Source) Observe(seen Clock) {
	if seen.After(s.last) {
		s.last = seen
	}
}

// Last returns the most recently issued or observed clock without
// advancing it.
func (s *Source) Last() Clock { return s.last }

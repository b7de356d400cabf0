package hlc

import "testing"

func TestCompareOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b Clock
		want int
	}{
		{"equal", New(1000, 0, 1), New(1000, 0, 1), 0},
		{"wall breaks tie", New(999, 5, 5), New(1000, 0, 0), -1},
		{"counter breaks tie", New(1000, 0, 1), New(1000, 1, 1), -1},
		{"node breaks tie", New(1000, 0, 1), New(1000, 0, 2), -1},
		{"reverse node tie", New(1000, 0, 3), New(1000, 0, 2), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Fatalf("Compare() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestConvergenceTiebreak is the literal S1 scenario from the spec:
// three concurrent SetTitle ops with equal wall/counter must converge
// on the op with the highest node id regardless of apply order.
func TestConvergenceTiebreak(t *testing.T) {
	a := New(1000, 0, 1)
	b := New(1000, 0, 2)
	c := New(1000, 0, 3)

	winner := a
	for _, cand := range []Clock{b, c} {
		if cand.After(winner) {
			winner = cand
		}
	}
	if winner != c {
		t.Fatalf("winner = %v, want %v", winner, c)
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	var last Clock
	wall := uint64(1000)
	for i := 0; i < 5; i++ {
		next := Advance(last, wall, 7)
		if !next.After(last) && i > 0 {
			t.Fatalf("Advance() did not strictly increase: %v -> %v", last, next)
		}
		last = next
	}
}

func TestAdvanceHandlesClockRegression(t *testing.T) {
	first := Advance(Zero, 5000, 1)
	// wall clock appears to go backwards (NTP step)
	second := Advance(first, 4000, 1)
	if !second.After(first) {
		t.Fatalf("Advance() must stay monotonic under clock regression: %v -> %v", first, second)
	}
	if second.WallMS != first.WallMS {
		t.Fatalf("Advance() should hold wall steady and bump counter, got wall=%d", second.WallMS)
	}
	if second.Counter != first.Counter+1 {
		t.Fatalf("Advance() counter = %d, want %d", second.Counter, first.Counter+1)
	}
}

func TestSourceObserveDoesNotRegress(t *testing.T) {
	src := NewSource(1, Zero, func() uint64 { return 100 })
	c1 := src.Now()
	src.Observe(New(50, 0, 9)) // older than c1; must not move us backwards
	if src.Last() != c1 {
		t.Fatalf("Observe() regressed the clock: %v -> %v", c1, src.Last())
	}
	future := New(100000, 0, 9)
	src.Observe(future)
	if src.Last() != future {
		t.Fatalf("Observe() did not adopt newer peer clock")
	}
	c2 := src.Now()
	if !c2.After(future) {
		t.Fatalf("Now() after Observe() must exceed observed clock: %v vs %v", c2, future)
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	vals := []Clock{
		Zero,
		Max,
		New(0, 0, 0),
		New(^uint64(0), 0, 0),
		New(1700000000000, 42, 7),
	}
	for _, c := range vals {
		s := c.String()
		parsed, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", s, err)
		}
		if parsed != c {
			t.Fatalf("round trip mismatch: %v -> %q -> %v", c, s, parsed)
		}
	}
}

// TestTextualOrderMatchesNumericOrder verifies the invariant from §4.1:
// the string encoding must sort identically to Compare, since database
// columns and JSONL readers may rely on lexicographic comparison.
func TestTextualOrderMatchesNumericOrder(t *testing.T) {
	pairs := [][2]Clock{
		{New(1, 0, 0), New(2, 0, 0)},
		{New(1000, 1, 0), New(1000, 2, 0)},
		{New(1000, 0, 1), New(1000, 0, 2)},
	}
	for _, p := range pairs {
		lo, hi := p[0].String(), p[1].String()
		if !(lo < hi) {
			t.Fatalf("string order mismatch: %q should sort before %q", lo, hi)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{"", "abc", "1.2", "1.2.3.4", "zz.00000000.00000000"}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q) should have failed", s)
		}
	}
}

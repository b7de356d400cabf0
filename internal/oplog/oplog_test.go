package oplog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
)

func testOp(wall uint64, counter, node uint32, title string) op.Op {
	return op.Op{ID: hlc.New(wall, counter, node), Payload: op.SetTitle{ID: "prj-1", Title: title}}
}

func TestAppendDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	o := testOp(1000, 0, 1, "first")
	ok, err := l.Append(o)
	if err != nil || !ok {
		t.Fatalf("first Append: ok=%v err=%v", ok, err)
	}

	// A different payload with the same id is a duplicate by id alone.
	dup := op.Op{ID: o.ID, Payload: op.SetTitle{ID: "prj-1", Title: "second"}}
	ok, err = l.Append(dup)
	if err != nil || ok {
		t.Fatalf("duplicate Append: ok=%v err=%v, want ok=false", ok, err)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := countLines(string(data))
	if lines != 1 {
		t.Fatalf("file has %d lines, want 1 (duplicate append must not grow the file)", lines)
	}
}

func TestOpenSkipsBlankAndTruncatedTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	good := `{"id":"0000000000000001.00000000.00000001","payload":{"type":"set_title","id":"prj-1","title":"a"}}`
	content := good + "\n\n" + `{"id":"0000000000000001.00000000.00000002","payload":{"type":"set_titl` // truncated
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open should tolerate blank + truncated trailing line: %v", err)
	}
	defer l.Close()

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestOpenFailsOnUnknownVariantNotAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	bad := `{"id":"0000000000000001.00000000.00000001","payload":{"type":"not_a_real_kind"}}` + "\n" +
		`{"id":"0000000000000001.00000000.00000002","payload":{"type":"set_title","id":"prj-1","title":"a"}}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open should fail strictly on an unknown variant that is not the truncated trailing line")
	}
}

func TestReadAllSortedByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ops := []op.Op{
		testOp(3000, 0, 1, "c"),
		testOp(1000, 0, 1, "a"),
		testOp(2000, 0, 1, "b"),
	}
	for _, o := range ops {
		if _, err := l.Append(o); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadAll returned %d ops, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Less(got[i]) {
			t.Fatalf("ReadAll not sorted at index %d: %v >= %v", i, got[i-1].ID, got[i].ID)
		}
	}
}

func TestSinceExcludesAndIncludesBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	a := testOp(1000, 0, 1, "a")
	b := testOp(2000, 0, 1, "b")
	c := testOp(3000, 0, 1, "c")
	for _, o := range []op.Op{a, b, c} {
		if _, err := l.Append(o); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Since(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != c.ID {
		t.Fatalf("Since(b) = %v, want only c", got)
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}

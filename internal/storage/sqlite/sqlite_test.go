package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/wokerrors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wok.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndGetIssue(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	if err := db.CreateIssue("prj-1", op.TypeTask, "hello", 1000, stamp); err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	iss, err := db.GetIssue("prj-1")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if iss.Title != "hello" || iss.Type != op.TypeTask || iss.Status != op.StatusTodo {
		t.Fatalf("unexpected issue: %+v", iss)
	}
}

func TestResolveIDExactPrefixAmbiguous(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	for _, id := range []string{"prj-100", "prj-101", "prj-2"} {
		if err := db.CreateIssue(id, op.TypeTask, id, 1000, stamp); err != nil {
			t.Fatalf("CreateIssue %s: %v", id, err)
		}
	}

	if got, err := db.ResolveID("prj-2"); err != nil || got != "prj-2" {
		t.Fatalf("exact match: got %q, err %v", got, err)
	}
	if got, err := db.ResolveID("prj-10"); err == nil || got != "" {
		t.Fatalf("ambiguous prefix: got %q, err %v, want AmbiguousIDError", got, err)
	} else if _, ok := err.(*wokerrors.AmbiguousIDError); !ok {
		t.Fatalf("expected ambiguous error, got %T: %v", err, err)
	}
	if got, err := db.ResolveID("prj-9"); err == nil || got != "" {
		t.Fatalf("no match: got %q, err %v, want NotFound", got, err)
	}
}

func TestAddDependencyRejectsSelfAndCycle(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		if err := db.CreateIssue(id, op.TypeTask, id, 1000, stamp); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.AddDependency("a-1", "a-1", op.RelBlocks, 1000); err == nil {
		t.Fatal("expected self-dependency rejection")
	}
	if err := db.AddDependency("a-1", "a-2", op.RelBlocks, 1000); err != nil {
		t.Fatalf("a-1 blocks a-2: %v", err)
	}
	if err := db.AddDependency("a-2", "a-3", op.RelBlocks, 1000); err != nil {
		t.Fatalf("a-2 blocks a-3: %v", err)
	}
	if err := db.AddDependency("a-3", "a-1", op.RelBlocks, 1000); err == nil {
		t.Fatal("expected cycle rejection for a-3 blocks a-1")
	}

	// Scenario S5: the rejected edge must not have been inserted. The
	// edge a-3 -> a-1 would make a-1 a transitive blocker of a-3.
	blockers, err := db.GetTransitiveBlockers("a-3")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range blockers {
		if id == "a-1" {
			t.Fatal("cycle-rejected dependency a-3->a-1 was inserted despite the error")
		}
	}
}

func TestGetBlockedIssueIDsOnlyOpenBlockers(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	for _, id := range []string{"b-1", "b-2", "b-3"} {
		if err := db.CreateIssue(id, op.TypeTask, id, 1000, stamp); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.AddDependency("b-2", "b-1", op.RelBlocks, 1000); err != nil {
		t.Fatal(err)
	}
	blocked, err := db.GetBlockedIssueIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 1 || blocked[0] != "b-2" {
		t.Fatalf("GetBlockedIssueIDs = %v, want [b-2]", blocked)
	}

	// Closing the blocker removes b-2 from the blocked set.
	if err := db.UpdateStatus("b-1", op.StatusDone, 2000, sql.NullInt64{Int64: 2000, Valid: true}, hlc.New(2000, 0, 1)); err != nil {
		t.Fatal(err)
	}
	blocked, err = db.GetBlockedIssueIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 0 {
		t.Fatalf("GetBlockedIssueIDs after close = %v, want empty", blocked)
	}
}

func TestLabelsAddRemove(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	if err := db.CreateIssue("lbl-1", op.TypeTask, "t", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.AddLabel("lbl-1", "urgent"); err != nil {
		t.Fatalf("AddLabel: %v", err)
	}
	// Duplicate add is a no-op, not an error.
	if err := db.AddLabel("lbl-1", "urgent"); err != nil {
		t.Fatalf("duplicate AddLabel: %v", err)
	}
	labels, err := db.Labels("lbl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || labels[0] != "urgent" {
		t.Fatalf("labels = %v, want [urgent]", labels)
	}

	if err := db.RemoveLabel("lbl-1", "urgent"); err != nil {
		t.Fatalf("RemoveLabel: %v", err)
	}
	if labels, err := db.Labels("lbl-1"); err != nil || len(labels) != 0 {
		t.Fatalf("labels after remove = %v, err %v, want none", labels, err)
	}
	// Removing an already-absent label stays a no-op.
	if err := db.RemoveLabel("lbl-1", "urgent"); err != nil {
		t.Fatalf("repeat RemoveLabel: %v", err)
	}
}

func TestAddNoteAndLink(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	if err := db.CreateIssue("note-1", op.TypeTask, "t", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.AddNote("n1", "note-1", "open", "first pass", 1000); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	// Redelivery of the same note id is harmless.
	if err := db.AddNote("n1", "note-1", "open", "first pass", 1000); err != nil {
		t.Fatalf("repeat AddNote: %v", err)
	}

	if err := db.AddLink("l1", "note-1", "pr", "https://example.com/1", "", "", 1000); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := db.RemoveLink("note-1", "https://example.com/1"); err != nil {
		t.Fatalf("RemoveLink: %v", err)
	}
	if err := db.RemoveLink("note-1", "https://example.com/1"); err != nil {
		t.Fatalf("repeat RemoveLink should no-op: %v", err)
	}
}

func TestEnsurePrefixIncrementsCount(t *testing.T) {
	db := openTestDB(t)
	if err := db.EnsurePrefix("prj", 1000); err != nil {
		t.Fatalf("EnsurePrefix: %v", err)
	}
	if err := db.EnsurePrefix("prj", 2000); err != nil {
		t.Fatalf("second EnsurePrefix: %v", err)
	}
	var count int
	if err := db.conn.QueryRow(`SELECT issue_count FROM prefixes WHERE prefix = ?`, "prj").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("issue_count = %d, want 2", count)
	}
}

func TestRenamePrefixEverywhereIsolatesPartialPrefix(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	if err := db.CreateIssue("old-1", op.TypeTask, "renamed", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIssue("older-1", op.TypeTask, "untouched", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.RenamePrefixEverywhere("old", "new"); err != nil {
		t.Fatalf("RenamePrefixEverywhere: %v", err)
	}

	if _, err := db.GetIssue("new-1"); err != nil {
		t.Fatalf("expected old-1 renamed to new-1: %v", err)
	}
	if _, err := db.GetIssue("old-1"); err == nil {
		t.Fatal("old-1 should no longer exist")
	}
	if _, err := db.GetIssue("older-1"); err != nil {
		t.Fatalf("older-1 must survive a rename of prefix old: %v", err)
	}
}

func TestRenamePrefixEverywhereRewritesDeps(t *testing.T) {
	db := openTestDB(t)
	stamp := hlc.New(1000, 0, 1)
	if err := db.CreateIssue("old-1", op.TypeTask, "a", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIssue("old-2", op.TypeTask, "b", 1000, stamp); err != nil {
		t.Fatal(err)
	}
	if err := db.AddDependency("old-1", "old-2", op.RelBlocks, 1000); err != nil {
		t.Fatal(err)
	}

	if err := db.RenamePrefixEverywhere("old", "new"); err != nil {
		t.Fatalf("RenamePrefixEverywhere: %v", err)
	}

	blockers, err := db.GetTransitiveBlockers("new-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 1 || blockers[0] != "new-2" {
		t.Fatalf("GetTransitiveBlockers(new-1) = %v, want [new-2] (dep rows must follow the rename)", blockers)
	}
}

package syncgit

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init", "-b", "main", dir},
		{"-C", dir, "config", "user.email", "test@example.com"},
		{"-C", dir, "config", "user.name", "test"},
	} {
		if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"-C", dir, "add", "README.md"},
		{"-C", dir, "commit", "-m", "init"},
	} {
		if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
}

func newBackend(t *testing.T, repoDir string) *Backend {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "wok.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wal, err := queue.Open(filepath.Join(t.TempDir(), "wal.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = wal.Close() })

	b, err := Open(repoDir, "wok/oplog", "", false, db, wal)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEnsureWorktreeCreatesOrphanBranch(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)

	b := newBackend(t, dir)

	out, err := exec.Command("git", "-C", dir, "log", "--oneline", "wok/oplog").CombinedOutput()
	if err != nil {
		t.Fatalf("orphan branch not created: %v: %s", err, out)
	}

	if _, err := os.Stat(filepath.Join(b.worktreePath, oplogFileName)); err != nil {
		t.Fatalf("worktree oplog file missing: %v", err)
	}

	// The orphan branch must not share history with main.
	mergeBase, err := exec.Command("git", "-C", dir, "merge-base", "main", "wok/oplog").CombinedOutput()
	if err == nil {
		t.Fatalf("expected no merge base between main and orphan branch, got %s", mergeBase)
	}
}

func TestSyncPushesLocalWALOps(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	b := newBackend(t, dir)

	o := op.Op{ID: hlc.New(1, 0, 1), Payload: op.CreateIssue{ID: "proj-1", Type: op.TypeTask, Title: "hi"}}
	if err := b.wal.Append(o); err != nil {
		t.Fatal(err)
	}

	pushed, err := b.Sync()
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 1 {
		t.Fatalf("pushed = %d, want 1", pushed)
	}

	reopened, err := oplog.Open(filepath.Join(b.worktreePath, oplogFileName))
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if !reopened.Contains(o.ID) {
		t.Fatal("op not present in worktree oplog after sync")
	}

	iss, err := b.db.GetIssue("proj-1")
	if err != nil {
		t.Fatalf("op was not applied to the db: %v", err)
	}
	if iss.Title != "hi" {
		t.Fatalf("title = %q, want hi", iss.Title)
	}
}

// Package syncgit implements the Git oplog sync backend (§4.9, C9):
// the oplog lives as a single JSONL file on an orphan branch, kept in a
// dedicated worktree so syncing never touches the caller's main working
// tree. The branch history is throwaway — only its current tip matters
// — so init uses the low-level plumbing commands (hash-object,
// mktree, commit-tree, update-ref) instead of a checkout, and the sync
// cycle always resolves conflicts with "-X theirs" because the file is
// append-only and totally ordered by HLC: there is nothing to actually
// reconcile at the text level.
package syncgit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/merge"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

const oplogFileName = "oplog.jsonl"

// Backend drives one repo's Git-based oplog sync.
type Backend struct {
	repoPath     string // the caller's main working tree
	branch       string
	worktreePath string
	db           *sqlite.DB
	log          *oplog.Log
	wal          *queue.Queue
}

// Open resolves (creating if necessary) the oplog worktree for repoPath
// and branch, per §4.9's placement rules: same-repo under
// `.git/wok/oplog`, or `.wok/oplog` in repoPath when useDotWok is set;
// xdgDataHome is used only when repoPath is not inside a git repo.
func Open(repoPath, branch, xdgDataHome string, useDotWok bool, db *sqlite.DB, wal *queue.Queue) (*Backend, error) {
	worktreePath, err := resolveWorktreePath(repoPath, xdgDataHome, useDotWok)
	if err != nil {
		return nil, err
	}

	if err := ensureWorktree(repoPath, branch, worktreePath); err != nil {
		return nil, err
	}

	l, err := oplog.Open(filepath.Join(worktreePath, oplogFileName))
	if err != nil {
		return nil, fmt.Errorf("syncgit: open worktree oplog: %w", err)
	}

	return &Backend{repoPath: repoPath, branch: branch, worktreePath: worktreePath, db: db, log: l, wal: wal}, nil
}

// resolveWorktreePath implements §4.9's placement rule: same-repo
// under .git/wok/oplog, unless the caller asked for .wok/oplog, or
// there is no enclosing repo at all, in which case it falls back to
// $XDG_DATA_HOME/wok/<repo-hash>/oplog.
func resolveWorktreePath(repoPath, xdgDataHome string, useDotWok bool) (string, error) {
	if useDotWok {
		return filepath.Join(repoPath, ".wok", "oplog"), nil
	}

	gitDir, err := gitCommonDir(repoPath)
	if err == nil && gitDir != "" {
		return filepath.Join(gitDir, "wok", "oplog"), nil
	}

	if xdgDataHome == "" {
		return "", fmt.Errorf("syncgit: %s is not a git repo and XDG_DATA_HOME is unset", repoPath)
	}
	hash := sha256.Sum256([]byte(repoPath))
	return filepath.Join(xdgDataHome, "wok", hex.EncodeToString(hash[:])[:16], "oplog"), nil
}

func gitCommonDir(repoPath string) (string, error) {
	out, err := runGit(repoPath, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(out)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}
	return dir, nil
}

// ensureWorktree creates the orphan branch (if absent) and attaches a
// worktree to it (if absent), per §4.9's init steps.
func ensureWorktree(repoPath, branch, worktreePath string) error {
	if _, err := os.Stat(worktreePath); err == nil {
		return nil // already set up
	}

	if _, err := runGit(repoPath, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		if err := createOrphanBranch(repoPath, branch); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return fmt.Errorf("syncgit: mkdir %s: %w", filepath.Dir(worktreePath), err)
	}
	if _, err := runGit(repoPath, "worktree", "add", worktreePath, branch); err != nil {
		return fmt.Errorf("syncgit: add worktree: %w", err)
	}
	return nil
}

// createOrphanBranch builds branch's single commit with low-level
// plumbing, never touching the caller's checked-out working tree
// (§4.9): hash-object the empty oplog blob, mktree a tree containing
// it, commit-tree that tree with no parent, and point the ref at it.
func createOrphanBranch(repoPath, branch string) error {
	blobHash, err := runGitStdin(repoPath, []byte{}, "hash-object", "-w", "--stdin")
	if err != nil {
		return fmt.Errorf("syncgit: hash-object: %w", err)
	}
	blobHash = strings.TrimSpace(blobHash)

	treeSpec := fmt.Sprintf("100644 blob %s\t%s\n", blobHash, oplogFileName)
	treeHash, err := runGitStdin(repoPath, []byte(treeSpec), "mktree")
	if err != nil {
		return fmt.Errorf("syncgit: mktree: %w", err)
	}
	treeHash = strings.TrimSpace(treeHash)

	env := authorEnv()
	commitHash, err := runGitStdinEnv(repoPath, env, []byte("wok: initialize oplog\n"), "commit-tree", treeHash)
	if err != nil {
		return fmt.Errorf("syncgit: commit-tree: %w", err)
	}
	commitHash = strings.TrimSpace(commitHash)

	if _, err := runGit(repoPath, "update-ref", "refs/heads/"+branch, commitHash); err != nil {
		return fmt.Errorf("syncgit: update-ref: %w", err)
	}
	return nil
}

// Sync runs one full sync_git cycle (§4.9) and returns the number of
// ops pushed.
func (b *Backend) Sync() (pushed int, err error) {
	_, _ = runGit(b.worktreePath, "fetch", "origin", b.branch) // first run may have no remote; ignore

	localBefore, err := b.log.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("syncgit: read local oplog: %w", err)
	}
	localIDs := idSet(localBefore)

	var newPulled []op.Op
	if diverged, err := b.remoteDiverged(); err != nil {
		return 0, err
	} else if diverged {
		if _, err := runGit(b.worktreePath, "merge", "-X", "theirs", "origin/"+b.branch); err != nil {
			return 0, fmt.Errorf("syncgit: merge origin/%s: %w", b.branch, err)
		}
		// The merge replaced the oplog file; reopen it so the handle and
		// its dedup set follow the merged contents.
		if err := b.log.Close(); err != nil {
			return 0, fmt.Errorf("syncgit: close pre-merge oplog: %w", err)
		}
		reopened, err := oplog.Open(b.log.Path())
		if err != nil {
			return 0, fmt.Errorf("syncgit: reopen merged oplog: %w", err)
		}
		b.log = reopened
		merged, err := rereadLog(b.log)
		if err != nil {
			return 0, err
		}
		for _, o := range merged {
			if _, ok := localIDs[o.ID]; !ok {
				newPulled = append(newPulled, o)
			}
		}
	}

	walOps, err := b.wal.TakeAll()
	if err != nil {
		return 0, fmt.Errorf("syncgit: drain wal: %w", err)
	}
	localAdded := 0
	for _, o := range walOps {
		ok, err := b.log.Append(o)
		if err != nil {
			return 0, fmt.Errorf("syncgit: append wal op %s: %w", o.ID, err)
		}
		if ok {
			localAdded++
		}
	}

	if localAdded > 0 {
		if _, err := runGit(b.worktreePath, "add", oplogFileName); err != nil {
			return 0, fmt.Errorf("syncgit: add: %w", err)
		}
		env := authorEnv()
		if _, err := runGitEnv(b.worktreePath, env, "commit", "-m", "wok sync"); err != nil {
			return 0, fmt.Errorf("syncgit: commit: %w", err)
		}
		if _, err := runGit(b.worktreePath, "push", "origin", b.branch); err != nil {
			return 0, fmt.Errorf("syncgit: push: %w", err)
		}
		pushed = localAdded
	}

	if len(newPulled) > 0 {
		sort.Slice(newPulled, func(i, j int) bool { return newPulled[i].Less(newPulled[j]) })
		if _, err := merge.ApplyAll(b.db, newPulled); err != nil {
			return pushed, fmt.Errorf("syncgit: apply pulled ops: %w", err)
		}
	}

	return pushed, nil
}

func (b *Backend) remoteDiverged() (bool, error) {
	head, err := runGit(b.worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return false, fmt.Errorf("syncgit: rev-parse HEAD: %w", err)
	}
	remote, err := runGit(b.worktreePath, "rev-parse", "origin/"+b.branch)
	if err != nil {
		return false, nil // no remote tracking ref yet
	}
	return strings.TrimSpace(head) != strings.TrimSpace(remote), nil
}

func rereadLog(l *oplog.Log) ([]op.Op, error) {
	// the worktree file changed under the log's feet via git merge, so
	// the log's in-memory dedup set must be rebuilt from disk
	reopened, err := oplog.Open(l.Path())
	if err != nil {
		return nil, fmt.Errorf("syncgit: reread merged oplog: %w", err)
	}
	defer func() { _ = reopened.Close() }()
	return reopened.ReadAll()
}

func idSet(ops []op.Op) map[hlc.Clock]struct{} {
	s := make(map[hlc.Clock]struct{}, len(ops))
	for _, o := range ops {
		s[o.ID] = struct{}{}
	}
	return s
}

// authorEnv fills GIT_AUTHOR_*/GIT_COMMITTER_* with a wok@localhost
// identity whenever the ambient environment lacks one, so automated
// sync commits never fail on missing git config (§6 env var table).
func authorEnv() []string {
	env := os.Environ()
	have := func(key string) bool {
		prefix := key + "="
		for _, e := range env {
			if strings.HasPrefix(e, prefix) {
				return true
			}
		}
		return false
	}
	defaults := map[string]string{
		"GIT_AUTHOR_NAME":     "wok",
		"GIT_AUTHOR_EMAIL":    "wok@localhost",
		"GIT_COMMITTER_NAME":  "wok",
		"GIT_COMMITTER_EMAIL": "wok@localhost",
	}
	for k, v := range defaults {
		if !have(k) {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func runGit(dir string, args ...string) (string, error) {
	return runGitEnv(dir, os.Environ(), args...)
}

func runGitEnv(dir string, env []string, args ...string) (string, error) {
	// #nosec G204 -- args are fixed subcommand literals or internal HLC ids, never raw user input
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = env
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return out.String(), nil
}

func runGitStdin(dir string, stdin []byte, args ...string) (string, error) {
	return runGitStdinEnv(dir, os.Environ(), stdin, args...)
}

func runGitStdinEnv(dir string, env []string, stdin []byte, args ...string) (string, error) {
	// #nosec G204 -- args are fixed subcommand literals, never raw user input
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(stdin)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return out.String(), nil
}

// Close releases the worktree oplog handle.
func (b *Backend) Close() error {
	return b.log.Close()
}

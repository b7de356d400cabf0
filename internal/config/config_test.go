package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigYAML(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
}

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	cfg, _, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteKind != RemoteWebSocket {
		t.Errorf("RemoteKind = %q, want %q", cfg.RemoteKind, RemoteWebSocket)
	}
	if cfg.GitBranch != "wok/oplog" {
		t.Errorf("GitBranch = %q, want wok/oplog", cfg.GitBranch)
	}
	if cfg.ReconnectMaxDelaySecs != 30 {
		t.Errorf("ReconnectMaxDelaySecs = %d, want 30", cfg.ReconnectMaxDelaySecs)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigYAML(t, dir, `
remote:
  kind: git
  url: https://example.com/repo.git
node_id: 7
git:
  branch: custom-branch
`)

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteKind != RemoteGit {
		t.Errorf("RemoteKind = %q, want git", cfg.RemoteKind)
	}
	if cfg.RemoteURL != "https://example.com/repo.git" {
		t.Errorf("RemoteURL = %q", cfg.RemoteURL)
	}
	if cfg.NodeID != 7 {
		t.Errorf("NodeID = %d, want 7", cfg.NodeID)
	}
	if cfg.GitBranch != "custom-branch" {
		t.Errorf("GitBranch = %q, want custom-branch", cfg.GitBranch)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigYAML(t, dir, "node_id: 1\n")
	t.Setenv("WOK_NODE_ID", "42")

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != 42 {
		t.Errorf("NodeID = %d, want 42 from env override", cfg.NodeID)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		ReconnectMaxDelaySecs: 5,
		HeartbeatIntervalMS:   1500,
		HeartbeatTimeoutMS:    250,
	}
	if got := cfg.ReconnectMaxDelay(); got != 5*time.Second {
		t.Errorf("ReconnectMaxDelay() = %v, want 5s", got)
	}
	if got := cfg.HeartbeatInterval(); got != 1500*time.Millisecond {
		t.Errorf("HeartbeatInterval() = %v, want 1500ms", got)
	}
	if got := cfg.HeartbeatTimeout(); got != 250*time.Millisecond {
		t.Errorf("HeartbeatTimeout() = %v, want 250ms", got)
	}
}

func TestWatchReloadDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	writeConfigYAML(t, dir, "node_id: 1\n")

	_, v, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	changes := make(chan *Config, 4)
	WatchReload(v, 20*time.Millisecond, func(c *Config) { changes <- c })

	writeConfigYAML(t, dir, "node_id: 2\n")
	time.Sleep(10 * time.Millisecond)
	writeConfigYAML(t, dir, "node_id: 3\n")

	select {
	case c := <-changes:
		if c.NodeID != 3 {
			t.Errorf("NodeID = %d, want 3 (last write should win after debounce)", c.NodeID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	select {
	case c := <-changes:
		t.Fatalf("unexpected second reload callback: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

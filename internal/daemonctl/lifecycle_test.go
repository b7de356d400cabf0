package daemonctl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wok-oss/wok/internal/daemon"
	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

type fakeBackend struct{}

func (fakeBackend) Kind() string                         { return "fake" }
func (fakeBackend) TriggerSync() (int, error)            { return 0, nil }
func (fakeBackend) StatusSnapshot() (bool, bool, string) { return true, false, "" }
func (fakeBackend) LastServerHLC() hlc.Clock             { return hlc.Clock{} }
func (fakeBackend) Close() error                         { return nil }

func startTestDaemon(t *testing.T, version string) (string, func()) {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "wok.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	l, err := oplog.Open(filepath.Join(dir, "oplog.jsonl"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	q, err := queue.Open(filepath.Join(dir, "queue.jsonl"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	clock := hlc.NewSource(1, hlc.Clock{}, func() uint64 { return 1000 })

	d, err := daemon.New(daemon.Config{
		DaemonDir: dir,
		DB:        db,
		Log:       l,
		Queue:     q,
		Clock:     clock,
		Backend:   fakeBackend{},
		Version:   version,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	go func() { _ = d.Run() }()
	// Give the listener a moment to bind before tests start dialing.
	time.Sleep(20 * time.Millisecond)

	return dir, d.Shutdown
}

func TestDetectFindsRunningDaemon(t *testing.T) {
	dir, stop := startTestDaemon(t, "1.2.3")
	defer stop()

	c, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c == nil {
		t.Fatal("Detect: expected a client, got nil")
	}
	defer func() { _ = c.Close() }()
}

func TestDetectNoDaemonReturnsNilNil(t *testing.T) {
	c, err := Detect(t.TempDir())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c != nil {
		t.Fatal("Detect: expected nil client when no daemon is listening")
	}
}

func TestHandshakeReuseOnEqualVersions(t *testing.T) {
	dir, stop := startTestDaemon(t, "1.2.3")
	defer stop()

	c, err := Detect(dir)
	if err != nil || c == nil {
		t.Fatalf("Detect: %v, %v", c, err)
	}
	defer func() { _ = c.Close() }()

	result, err := Handshake(c, "1.2.3")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result != HandshakeReuse {
		t.Fatalf("expected HandshakeReuse, got %v", result)
	}
}

func TestHandshakeRestartWhenDaemonOlder(t *testing.T) {
	dir, stop := startTestDaemon(t, "1.0.0")
	defer stop()

	c, err := Detect(dir)
	if err != nil || c == nil {
		t.Fatalf("Detect: %v, %v", c, err)
	}
	defer func() { _ = c.Close() }()

	result, err := Handshake(c, "2.0.0")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result != HandshakeRestart {
		t.Fatalf("expected HandshakeRestart, got %v", result)
	}
}

func TestHandshakeCLIOlderWhenDaemonNewer(t *testing.T) {
	dir, stop := startTestDaemon(t, "2.0.0")
	defer stop()

	c, err := Detect(dir)
	if err != nil || c == nil {
		t.Fatalf("Detect: %v, %v", c, err)
	}
	defer func() { _ = c.Close() }()

	result, err := Handshake(c, "1.0.0")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result != HandshakeCLIOlder {
		t.Fatalf("expected HandshakeCLIOlder, got %v", result)
	}
}

func TestFingerprintMatchesWhenFileAbsent(t *testing.T) {
	if !fingerprintMatches(t.TempDir(), "/usr/local/bin/wokd") {
		t.Fatal("fingerprintMatches: expected a pass when no fingerprint file exists yet")
	}
}

func TestFingerprintDetectsMismatch(t *testing.T) {
	dir, stop := startTestDaemon(t, "1.2.3")
	defer stop()

	// startTestDaemon runs the daemon in-process via go test's own
	// binary, so its recorded fingerprint is the test binary's exec
	// path, not some other daemon binary.
	if fingerprintMatches(dir, "/some/other/wokd") {
		t.Fatal("fingerprintMatches: expected a mismatch against an unrelated exec path")
	}
}

// TestVersionMismatchStopCleansUpForRespawn is the teardown half of
// scenario S6: a CLI at a newer version than the running daemon
// handshakes HandshakeRestart, and once the daemon shuts down in
// response to the resulting stop request, the PID/socket files it used
// to Detect the daemon are gone so a subsequent Spawn won't find a
// stale daemon to collide with. Stop itself is not exercised here: the
// in-process test daemon shares this test binary's own PID, and Stop's
// SIGKILL fallback would target that PID if graceful shutdown didn't
// look complete in time.
func TestVersionMismatchStopCleansUpForRespawn(t *testing.T) {
	dir, stop := startTestDaemon(t, "0.1.0")

	c, err := Detect(dir)
	if err != nil || c == nil {
		t.Fatalf("Detect: %v, %v", c, err)
	}

	result, err := Handshake(c, "0.2.0")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result != HandshakeRestart {
		t.Fatalf("expected HandshakeRestart, got %v", result)
	}
	_ = c.Close()

	stop() // equivalent to the shutdown Stop triggers via ReqShutdown

	if _, err := os.Stat(daemon.PIDPath(dir)); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed after shutdown, stat err = %v", err)
	}
	if _, err := os.Stat(daemon.SocketPath(dir)); !os.IsNotExist(err) {
		t.Fatalf("socket file should be removed after shutdown, stat err = %v", err)
	}

	again, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect after shutdown: %v", err)
	}
	if again != nil {
		t.Fatal("Detect should find nothing once the stale daemon has shut down")
	}
}

func TestNormalizeSemver(t *testing.T) {
	cases := map[string]string{
		"1.2.3":  "v1.2.3",
		"v1.2.3": "v1.2.3",
		"":       "",
	}
	for in, want := range cases {
		if got := normalizeSemver(in); got != want {
			t.Errorf("normalizeSemver(%q) = %q, want %q", in, got, want)
		}
	}
}

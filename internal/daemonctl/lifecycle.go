// Package daemonctl implements the CLI side of daemon lifecycle
// management (§4.11): detecting a live daemon, spawning one when none
// is found, negotiating a version handshake, and stopping one
// gracefully. None of this runs inside the daemon process itself; it
// is the logic a CLI command runs before it can talk to the daemon at
// all.
package daemonctl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/mod/semver"

	"github.com/wok-oss/wok/internal/daemon"
	"github.com/wok-oss/wok/internal/daemonlock"
)

const (
	spawnPollInterval = 10 * time.Millisecond
	spawnPollAttempts = 150
	stopPollInterval  = 50 * time.Millisecond
	stopPollDeadline  = 3 * time.Second
	detectDialTimeout = 200 * time.Millisecond
)

// Detect attempts to connect to daemonDir's socket and Ping it. It
// returns (nil, nil) — not an error — when no daemon is reachable, so
// callers can fall through to Spawn. A daemon that answers Ping but has
// no PID file on disk is treated the same way: that combination only
// happens mid-startup, and the caller should retry rather than adopt an
// inconsistent daemon (§4.11).
func Detect(daemonDir string) (*daemon.Client, error) {
	c, err := daemon.Dial(daemon.SocketPath(daemonDir), detectDialTimeout)
	if err != nil {
		return nil, nil
	}
	if err := c.SetDeadline(time.Now().Add(detectDialTimeout)); err != nil {
		_ = c.Close()
		return nil, nil
	}
	resp, err := c.Call(daemon.Request{Type: daemon.ReqPing})
	if err != nil || resp.Type != daemon.RespPong {
		_ = c.Close()
		return nil, nil
	}
	if _, err := os.Stat(daemon.PIDPath(daemonDir)); err != nil {
		_ = c.Close()
		return nil, nil
	}
	_ = c.SetDeadline(time.Time{})
	return c, nil
}

// fingerprintMatches compares daemonDir's recorded binary path against
// the daemon.fingerprint file written at startup (§4.11): a stale PID
// file pointing at a recycled PID that now belongs to some unrelated
// process won't have a fingerprint recorded for the current daemon
// binary, so the mismatch flags it rather than letting a live,
// successfully-Pinged socket vouch for a daemon it didn't actually
// answer for. A missing fingerprint file (older daemon, or none yet
// written) is treated as a pass, not a failure.
func fingerprintMatches(daemonDir, execPath string) bool {
	data, err := os.ReadFile(daemon.FingerprintPath(daemonDir))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) == execPath
}

// Spawn launches execPath as `execPath daemon run <daemonDir>`, detached
// into its own session (so it survives the parent CLI exiting), and
// waits for it to become reachable. It polls Detect at spawnPollInterval
// up to spawnPollAttempts times, but a READY line on the child's stdout
// short-circuits the wait. If the child exits before either signal
// arrives, its stderr is returned as the error.
func Spawn(execPath, daemonDir string) (*daemon.Client, error) {
	cmd := exec.Command(execPath, "daemon", "run", daemonDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("daemonctl: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemonctl: start daemon: %w", err)
	}

	ready := make(chan struct{}, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "READY" {
				select {
				case ready <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	for i := 0; i < spawnPollAttempts; i++ {
		select {
		case err := <-exited:
			if err != nil {
				return nil, fmt.Errorf("daemonctl: daemon exited during startup: %w: %s", err, stderr.String())
			}
			return nil, fmt.Errorf("daemonctl: daemon exited during startup: %s", stderr.String())
		case <-ready:
			// READY already seen: go straight to detection below
		default:
		}

		if c, err := Detect(daemonDir); err == nil && c != nil {
			return c, nil
		}
		select {
		case <-ready: // READY ends the wait early
		case <-time.After(spawnPollInterval):
		}
	}

	return nil, fmt.Errorf("daemonctl: daemon did not become ready within %v", time.Duration(spawnPollAttempts)*spawnPollInterval)
}

// HandshakeResult is the outcome of comparing a CLI's version against
// the connected daemon's.
type HandshakeResult int

const (
	HandshakeReuse HandshakeResult = iota
	HandshakeCLIOlder
	HandshakeRestart
)

// Handshake compares cliVersion against the daemon's reported version
// and decides whether the caller can proceed, per §4.11:
//   - equal versions: reuse as-is.
//   - daemon older than the CLI: the daemon must be restarted.
//   - CLI older than the daemon: proceed, caller should warn.
//   - the daemon errors on Hello at all (legacy protocol): restart.
func Handshake(c *daemon.Client, cliVersion string) (HandshakeResult, error) {
	resp, err := c.Call(daemon.Request{Type: daemon.ReqHello, Version: cliVersion})
	if err != nil || resp.Type != daemon.RespHello {
		return HandshakeRestart, nil
	}

	cliSemver, daemonSemver := normalizeSemver(cliVersion), normalizeSemver(resp.Version)
	if !semver.IsValid(cliSemver) || !semver.IsValid(daemonSemver) {
		return HandshakeReuse, nil
	}

	switch semver.Compare(daemonSemver, cliSemver) {
	case 0:
		return HandshakeReuse, nil
	case -1:
		return HandshakeRestart, nil
	default:
		return HandshakeCLIOlder, nil
	}
}

func normalizeSemver(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Stop asks the daemon to shut down, waits up to stopPollDeadline for
// its process to exit (by kill(pid, 0) polling), and falls back to
// SIGKILL plus manual PID/socket cleanup if it doesn't (§4.11).
func Stop(c *daemon.Client, daemonDir string) error {
	pid, pidErr := readPID(daemonDir)

	// The connection may legitimately drop before a response arrives if
	// the daemon closes the socket as part of shutting down, so errors
	// here don't short-circuit the poll below.
	_, _ = c.Call(daemon.Request{Type: daemon.ReqShutdown})
	_ = c.Close()

	if pidErr != nil {
		return nil
	}

	deadline := time.Now().Add(stopPollDeadline)
	for time.Now().Before(deadline) {
		if !daemonlock.ProcessRunning(pid) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && daemonlock.ProcessRunning(pid) {
		return fmt.Errorf("daemonctl: force kill pid %d: %w", pid, err)
	}
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(daemon.PIDPath(daemonDir))
	_ = os.Remove(daemon.SocketPath(daemonDir))
	return nil
}

func readPID(daemonDir string) (int, error) {
	// #nosec G304 -- daemonDir is operator-controlled configuration
	f, err := os.Open(daemon.PIDPath(daemonDir))
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil {
		return 0, fmt.Errorf("daemonctl: malformed pid file: %w", err)
	}
	return pid, nil
}

// EnsureRunning is the full §4.11 dance a CLI command runs before its
// first IPC call: detect, and if nothing answers, spawn; then handshake
// and restart once if the daemon turns out to be stale.
func EnsureRunning(execPath, daemonDir, cliVersion string) (*daemon.Client, error) {
	c, err := Detect(daemonDir)
	if err != nil {
		return nil, err
	}
	if c != nil && !fingerprintMatches(daemonDir, execPath) {
		if err := Stop(c, daemonDir); err != nil {
			return nil, err
		}
		c = nil
	}
	if c == nil {
		c, err = Spawn(execPath, daemonDir)
		if err != nil {
			return nil, err
		}
	}

	switch result, err := Handshake(c, cliVersion); {
	case err != nil:
		_ = c.Close()
		return nil, err
	case result == HandshakeRestart:
		if err := Stop(c, daemonDir); err != nil {
			return nil, err
		}
		return Spawn(execPath, daemonDir)
	default:
		return c, nil
	}
}

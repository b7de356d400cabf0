package daemonlock

import "syscall"

// ProcessRunning reports whether pid identifies a live process, via the
// standard kill(pid, 0) liveness probe (§4.11's graceful-stop poll and
// the CLI's stale-PID-file cleanup both use this).
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

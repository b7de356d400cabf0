package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/wok-oss/wok/internal/daemonlock"
	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/obs"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

// Daemon owns every piece of process-wide state (§9 "global state"
// list): the lock file, the Database handle, the Oplog handle, the
// offline-queue/WAL, the sync backend, and the query deduplicator. New
// acquires the lock and builds the deduplicator; the other handles are
// opened by the caller and handed over through Config. Shutdown releases
// them; there are no static singletons.
type Daemon struct {
	db      *sqlite.DB
	log     *oplog.Log
	q       *queue.Queue
	backend Backend
	dedup   *QueryDeduplicator
	sl      *slog.Logger
	metrics *obs.Metrics

	clockMu sync.Mutex
	clock   *hlc.Source

	lock            *daemonlock.Lock
	socketPath      string
	pidPath         string
	hlcPath         string
	fingerprintPath string

	startedAt time.Time
	version   string

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listener     net.Listener
}

// SocketPath and PIDPath are the well-known file names under a
// daemon-dir (§6.1), exported so internal/daemonctl's spawn/detect code
// agrees with the daemon on where to look without duplicating the
// layout.
func SocketPath(daemonDir string) string      { return daemonDir + "/daemon.sock" }
func PIDPath(daemonDir string) string         { return daemonDir + "/daemon.pid" }
func FingerprintPath(daemonDir string) string { return daemonDir + "/daemon.fingerprint" }

// Config wires a Daemon to its on-disk layout (§6.1) and an already-
// opened backend.
type Config struct {
	DaemonDir string
	DB        *sqlite.DB
	Log       *oplog.Log
	Queue     *queue.Queue
	Clock     *hlc.Source
	Backend   Backend
	Version   string
	Logger    *slog.Logger
	Metrics   *obs.Metrics
}

// New acquires daemon.lock (§4.11 singleton requirement) and builds a
// Daemon ready to Run. Acquisition failure returns daemonlock.ErrHeld
// unmodified so the caller can exit with the distinct code the spawner
// watches for.
func New(cfg Config) (*Daemon, error) {
	lock, err := daemonlock.Acquire(cfg.DaemonDir + "/daemon.lock")
	if err != nil {
		return nil, err
	}

	sl := cfg.Logger
	if sl == nil {
		sl = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = obs.NoopMetrics()
	}

	d := &Daemon{
		db:              cfg.DB,
		log:             cfg.Log,
		q:               cfg.Queue,
		backend:         cfg.Backend,
		dedup:           NewQueryDeduplicator(2 * time.Second),
		sl:              sl,
		metrics:         metrics,
		clock:           cfg.Clock,
		lock:            lock,
		socketPath:      SocketPath(cfg.DaemonDir),
		pidPath:         PIDPath(cfg.DaemonDir),
		hlcPath:         cfg.DaemonDir + "/server_hlc",
		fingerprintPath: FingerprintPath(cfg.DaemonDir),
		startedAt:       time.Now(),
		version:         cfg.Version,
		shutdownCh:      make(chan struct{}),
	}
	return d, nil
}

// Run removes any stale socket file, binds the Unix listener, writes
// the PID file, and accepts IPC connections until Shutdown is called
// (§5 "the socket file is re-created on startup", "the PID file is
// written at startup and removed at clean shutdown").
func (d *Daemon) Run() error {
	_ = os.Remove(d.socketPath)

	l, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", d.socketPath, err)
	}
	d.listener = l

	if err := os.WriteFile(d.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		_ = l.Close()
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	if exe, err := os.Executable(); err == nil {
		_ = os.WriteFile(d.fingerprintPath, []byte(exe), 0o644)
	}

	fmt.Println("READY") // fast-path signal for the spawning CLI (§4.11)

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-d.shutdownCh:
				return nil
			default:
				return fmt.Errorf("daemon: accept: %w", err)
			}
		}
		go d.handleConn(conn)
	}
}

// handleConn serially reads and answers frames on one connection,
// preserving per-socket request/response ordering (§5) by never
// starting a second dispatch before the first's response is written.
func (d *Daemon) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		data, err := readFrame(conn)
		if err != nil {
			return
		}

		var req Request
		var resp Response
		if err := req.UnmarshalJSON(data); err != nil {
			resp = errorResponse(fmt.Errorf("daemon: %w", err))
		} else {
			resp = d.dispatch(req)
		}

		out, err := resp.MarshalJSON()
		if err != nil {
			return
		}
		if err := writeFrame(conn, out); err != nil {
			return
		}
		if resp.Type == RespShuttingDown {
			return
		}
	}
}

func (d *Daemon) dispatch(req Request) Response {
	switch req.Type {
	case ReqPing:
		return Response{Type: RespPong}
	case ReqHello:
		return Response{Type: RespHello, Version: d.version}
	case ReqStatus:
		return Response{Type: RespStatus, Status: d.status()}
	case ReqSyncNow:
		n, err := d.backend.TriggerSync()
		if err != nil {
			return errorResponse(fmt.Errorf("daemon: sync_now: %w", err))
		}
		if c := d.backend.LastServerHLC(); c != (hlc.Clock{}) {
			if err := d.persistServerHLC(c); err != nil {
				d.sl.Warn("persist server hlc failed", "error", err)
			}
		}
		return Response{Type: RespSyncComplete, OpsSynced: n}
	case ReqShutdown:
		go d.Shutdown()
		return Response{Type: RespShuttingDown}
	case ReqQuery:
		data, err := d.handleQuery(req.Query)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespQueryResult, QueryData: data}
	case ReqMutate:
		data, err := d.handleMutate(req.Mutate)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespMutateResult, MutateData: data}
	default:
		return errorResponse(fmt.Errorf("daemon: unknown request type %q", req.Type))
	}
}

func (d *Daemon) status() *Status {
	connected, connecting, remoteURL := d.backend.StatusSnapshot()
	pending, _ := d.q.Count()
	return &Status{
		Connected:  connected,
		Connecting: connecting,
		RemoteURL:  remoteURL,
		PendingOps: pending,
		PID:        os.Getpid(),
		UptimeSecs: int64(time.Since(d.startedAt).Seconds()),
	}
}

// advance returns the next HLC for a locally originated mutation. It is
// the only place daemon code touches the clock, keeping the
// not-concurrency-safe hlc.Source behind a single mutex.
func (d *Daemon) advance() hlc.Clock {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()
	return d.clock.Now()
}

// persistServerHLC writes the sync backend's observed high-water HLC to
// disk so a restart doesn't fall back to replaying the whole oplog
// (§4.10's server HLC persistence rationale).
func (d *Daemon) persistServerHLC(c hlc.Clock) error {
	return os.WriteFile(d.hlcPath, []byte(c.String()), 0o644)
}

// Shutdown drops the acceptor, closes the backend and storage handles,
// removes the PID and socket files, and releases daemon.lock. It is
// safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
		if d.listener != nil {
			_ = d.listener.Close()
		}
		if d.backend != nil {
			_ = d.backend.Close()
		}
		_ = d.log.Close()
		_ = d.q.Close()
		_ = d.db.Close()
		_ = os.Remove(d.pidPath)
		_ = os.Remove(d.socketPath)
		_ = os.Remove(d.fingerprintPath)
		_ = d.lock.Close()
	})
}

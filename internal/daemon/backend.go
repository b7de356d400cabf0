package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/merge"
	"github.com/wok-oss/wok/internal/obs"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/syncgit"
	"github.com/wok-oss/wok/internal/syncwire"
	"github.com/wok-oss/wok/internal/syncws"
)

// Backend is the daemon's view of a sync transport: exactly one
// concrete implementation (WebSocket or Git) is active per process,
// selected at startup, matching the design notes' "two concrete
// variants, no dynamic plugin discovery" decision. The interface exists
// so daemon tests can substitute a fake without a real socket or git
// worktree (§9).
type Backend interface {
	Kind() string
	TriggerSync() (opsSynced int, err error)
	StatusSnapshot() (connected, connecting bool, remoteURL string)
	// LastServerHLC reports the highest server-observed HLC seen so far,
	// so the daemon can persist it to server_hlc (§4.10) and avoid
	// replaying the whole oplog after a restart. The zero Clock means
	// "nothing observed yet" for backends (git) with no such concept.
	LastServerHLC() hlc.Clock
	Close() error
}

// wsBackend adapts internal/syncws.Client to Backend. A sync_now
// request flushes the offline queue, requests an incremental sync from
// the persisted server HLC, and drains Recv() until the matching
// sync_response or a receive error. The wait has no timeout of its own:
// a server that never answers keeps TriggerSync blocked in Recv().
type wsBackend struct {
	mu      sync.Mutex
	client  *syncws.Client
	db      *sqlite.DB
	url     string
	sl      *slog.Logger
	metrics *obs.Metrics
}

func newWSBackend(client *syncws.Client, db *sqlite.DB, url string, sl *slog.Logger, metrics *obs.Metrics) *wsBackend {
	if metrics == nil {
		metrics = obs.NoopMetrics()
	}
	return &wsBackend{client: client, db: db, url: url, sl: sl, metrics: metrics}
}

// NewWebSocketBackend exposes newWSBackend to callers outside this
// package (cmd/wokd's startup wiring) without making the concrete
// wsBackend type itself public. A nil metrics is replaced with a noop
// implementation so callers that skip observability setup (tests, most
// of all) don't need to construct a real meter.
func NewWebSocketBackend(client *syncws.Client, db *sqlite.DB, url string, sl *slog.Logger, metrics *obs.Metrics) Backend {
	return newWSBackend(client, db, url, sl, metrics)
}

func (b *wsBackend) Kind() string { return "websocket" }

func (b *wsBackend) TriggerSync() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client.State() != syncws.Connected {
		return 0, fmt.Errorf("daemon: websocket backend not connected")
	}
	if _, err := b.client.FlushQueue(); err != nil {
		return 0, fmt.Errorf("daemon: flush queue: %w", err)
	}
	b.metrics.SyncBroadcasts.Add(context.Background(), 1)
	if err := b.client.RequestSync(b.client.LastHLC()); err != nil {
		return 0, fmt.Errorf("daemon: request sync: %w", err)
	}

	applied := 0
	for {
		msg, err := b.client.Recv()
		if err != nil {
			return applied, fmt.Errorf("daemon: recv: %w", err)
		}
		switch msg.Type {
		case syncwire.TypeSyncResponse:
			if _, err := merge.ApplyAll(b.db, msg.Ops); err != nil {
				return applied, fmt.Errorf("daemon: apply synced ops: %w", err)
			}
			return applied + len(msg.Ops), nil
		case syncwire.TypeOp:
			if ok, err := merge.Apply(b.db, msg.Op); err == nil && ok {
				applied++
			}
		}
	}
}

func (b *wsBackend) StatusSnapshot() (connected, connecting bool, remoteURL string) {
	state := b.client.State()
	return state == syncws.Connected, state == syncws.Connecting, b.url
}

func (b *wsBackend) LastServerHLC() hlc.Clock { return b.client.LastHLC() }

func (b *wsBackend) Close() error { return b.client.Close() }

// gitBackend adapts internal/syncgit.Backend to Backend. Git fetch/push
// are permitted to block inline (§5) because sync_now is already
// serialized by the owner dispatching it.
type gitBackend struct {
	backend *syncgit.Backend
	wal     *queue.Queue
	tracer  trace.Tracer
}

func newGitBackend(b *syncgit.Backend, wal *queue.Queue, tracer trace.Tracer) *gitBackend {
	return &gitBackend{backend: b, wal: wal, tracer: tracer}
}

// NewGitBackend exposes newGitBackend to callers outside this package
// (cmd/wokd's startup wiring) without making the concrete gitBackend
// type itself public. A nil tracer is fine: TriggerSync skips the span
// when tracer is nil, so callers that don't set up observability
// (tests, most of all) don't need a fake one.
func NewGitBackend(b *syncgit.Backend, wal *queue.Queue, tracer trace.Tracer) Backend {
	return newGitBackend(b, wal, tracer)
}

func (b *gitBackend) Kind() string { return "git" }

func (b *gitBackend) TriggerSync() (int, error) {
	if b.tracer == nil {
		return b.backend.Sync()
	}
	_, span := b.tracer.Start(context.Background(), "sync.git.cycle")
	defer span.End()
	return b.backend.Sync()
}

func (b *gitBackend) StatusSnapshot() (connected, connecting bool, remoteURL string) {
	// The git backend has no persistent connection state; it is
	// "connected" whenever a sync is not actively failing, which we
	// cannot observe between cycles, so report it optimistically.
	return true, false, ""
}

// LastServerHLC: the git backend has no server-observed watermark
// distinct from its own oplog contents, so there is nothing to persist
// beyond what the daemon's own oplog already has.
func (b *gitBackend) LastServerHLC() hlc.Clock { return hlc.Clock{} }

func (b *gitBackend) Close() error { return b.backend.Close() }

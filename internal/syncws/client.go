// Package syncws implements the WebSocket sync client (§4.7, C7): a
// reconnecting, offline-queue-backed replication client with an
// explicit state machine and a server-observed high-water HLC that is
// never contaminated by the node's own op-advanced clock.
package syncws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/syncwire"
)

// State is the client's connection state (§4.7).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config holds the reconnect/heartbeat tunables from §4.7 and
// SPEC_FULL.md's config.yaml schema.
type Config struct {
	URL                 string
	ReconnectMaxDelay   time.Duration
	ReconnectMaxRetries int
	HeartbeatInterval   time.Duration // 0 disables
	HeartbeatTimeout    time.Duration
}

// Client is one daemon's WebSocket sync connection.
type Client struct {
	cfg   Config
	queue *queue.Queue

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	serverHLC hlc.Clock // server-observed high water; never advanced by local ops
	pingSeq   int64
}

// New constructs a client backed by q, the offline queue (§4.6).
func New(cfg Config, q *queue.Queue, persistedServerHLC hlc.Clock) *Client {
	return &Client{cfg: cfg, queue: q, state: Disconnected, serverHLC: persistedServerHLC}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHLC returns the server-observed high water clock. The client
// never advances this from its own ops; only frames actually received
// from the server (Op broadcasts, SyncResponse, SnapshotResponse)
// update it, per §4.7.
func (c *Client) LastHLC() hlc.Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverHLC
}

func (c *Client) observeServerHLC(id hlc.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.After(c.serverHLC) {
		c.serverHLC = id
	}
}

// Connect runs the exponential-backoff reconnect loop (§4.7): 100ms
// initial delay, doubling, capped at ReconnectMaxDelay, giving up after
// ReconnectMaxRetries. It returns once a Connected transition succeeds,
// or once retries are exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(Connecting)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = c.cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0 // bounded by retry count instead, via WithMaxRetries below

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.ReconnectMaxRetries)), ctx)

	err := backoff.Retry(func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}, bo)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("syncws: connect %s: %w", c.cfg.URL, err)
	}

	c.setState(Connected)
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SendOp appends op to the offline queue, then attempts to send it
// immediately when Connected. Any write error transitions the client to
// Disconnected; no write error is treated as a soft failure that keeps
// it Connected. Either way the op stays queued for the next flush.
func (c *Client) SendOp(o op.Op) error {
	if err := c.queue.Append(o); err != nil {
		return fmt.Errorf("syncws: queue op %s: %w", o.ID, err)
	}
	if c.State() != Connected {
		return nil
	}
	if err := c.write(syncwire.Message{Type: syncwire.TypeOp, Op: o}); err != nil {
		c.setState(Disconnected)
		return nil // op is safely queued; the reconnect cycle will flush it
	}
	return nil
}

// FlushQueue sends every currently queued op and returns the count
// sent. The queue is not cleared here — only a full sync/snapshot
// response clears it (§4.6/§4.7).
func (c *Client) FlushQueue() (int, error) {
	ops, err := c.queue.PeekAll()
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, o := range ops {
		if err := c.write(syncwire.Message{Type: syncwire.TypeOp, Op: o}); err != nil {
			return sent, fmt.Errorf("syncws: flush op %s: %w", o.ID, err)
		}
		sent++
	}
	return sent, nil
}

// RequestSync sends a sync request for ops strictly after since.
func (c *Client) RequestSync(since hlc.Clock) error {
	return c.write(syncwire.Message{Type: syncwire.TypeSync, Since: since})
}

// RequestSnapshot sends a snapshot request.
func (c *Client) RequestSnapshot() error {
	return c.write(syncwire.Message{Type: syncwire.TypeSnapshot})
}

// Ping sends a heartbeat ping with a fresh sequence number.
func (c *Client) Ping() error {
	c.mu.Lock()
	c.pingSeq++
	id := c.pingSeq
	c.mu.Unlock()
	return c.write(syncwire.Message{Type: syncwire.TypePing, PingID: id})
}

func (c *Client) write(m syncwire.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("syncws: not connected")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("syncws: marshal %s: %w", m.Type, err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next server message, used by the daemon's select
// loop (§4.7). Any read error transitions the client to Disconnected.
// A sync_response or snapshot_response clears the offline queue.
func (c *Client) Recv() (syncwire.Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return syncwire.Message{}, fmt.Errorf("syncws: not connected")
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		c.setState(Disconnected)
		return syncwire.Message{}, fmt.Errorf("syncws: recv: %w", err)
	}

	var m syncwire.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return syncwire.Message{}, fmt.Errorf("syncws: decode frame: %w", err)
	}

	switch m.Type {
	case syncwire.TypeOp:
		c.observeServerHLC(m.Op.ID)
	case syncwire.TypeSyncResponse:
		for _, o := range m.Ops {
			c.observeServerHLC(o.ID)
		}
		if err := c.queue.Clear(); err != nil {
			return m, fmt.Errorf("syncws: clear queue after %s: %w", m.Type, err)
		}
	case syncwire.TypeSnapshotResponse:
		c.observeServerHLC(m.Since)
		if err := c.queue.Clear(); err != nil {
			return m, fmt.Errorf("syncws: clear queue after %s: %w", m.Type, err)
		}
	}
	return m, nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

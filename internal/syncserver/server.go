// Package syncserver implements the WebSocket sync fan-out hub (§4.8,
// C8): every connected daemon's Op frames are applied locally and
// rebroadcast to every other connection, including the sender (so the
// sender's own daemon learns the server-assigned order). Grounded on
// the client-registry/broadcast-channel idiom used for the monitor's
// live issue feed, generalized from a single fire-and-forget broadcast
// channel to a per-connection send queue so one slow reader cannot
// stall the whole hub.
package syncserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/merge"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/syncwire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // sync runs over a trusted tailnet/VPN, not the public web
}

// Server fans out op frames among every connected client and answers
// sync/snapshot catch-up requests against the materialized DB.
type Server struct {
	db    *sqlite.DB
	log   *oplog.Log
	apply func(o op.Op) (bool, error)
	sl    *slog.Logger

	mu      sync.Mutex
	clients map[*conn]bool
}

type conn struct {
	ws   *websocket.Conn
	out  chan []byte
	once sync.Once
}

func (c *conn) send(data []byte) {
	select {
	case c.out <- data:
	default:
		// slow reader; drop rather than block the hub, matching the
		// best-effort broadcast contract of §4.8
	}
}

// New constructs a Server backed by db (the materialized cache) and l
// (the append-only oplog every accepted op is recorded to before being
// applied and broadcast).
func New(db *sqlite.DB, l *oplog.Log, sl *slog.Logger) *Server {
	return &Server{
		db:      db,
		log:     l,
		apply:   func(o op.Op) (bool, error) { return merge.Apply(db, o) },
		sl:      sl,
		clients: make(map[*conn]bool),
	}
}

// Handler returns the http.HandlerFunc to mount at the sync WebSocket
// path (e.g. "/ws/sync").
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.sl.Warn("sync upgrade failed", "err", err)
			return
		}
		c := &conn{ws: ws, out: make(chan []byte, 64)}

		s.mu.Lock()
		s.clients[c] = true
		s.mu.Unlock()
		s.sl.Info("sync client connected", "total", s.clientCount())

		go s.writePump(c)
		s.readPump(c)

		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.out)
		s.sl.Info("sync client disconnected", "total", s.clientCount())
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writePump(c *conn) {
	for data := range c.out {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.ws.Close()
			return
		}
	}
}

func (s *Server) readPump(c *conn) {
	defer func() { _ = c.ws.Close() }()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		reply, broadcast := s.handleFrame(data)
		if reply != nil {
			c.send(reply)
		}
		if broadcast != nil {
			s.broadcast(broadcast)
		}
	}
}

// handleFrame decodes one inbound frame and returns the direct reply
// (if any) and the frame to fan out to every connection (if any). A
// malformed frame yields an Error reply and no broadcast, without
// closing the connection (§4.8).
func (s *Server) handleFrame(data []byte) (reply, broadcast []byte) {
	var m syncwire.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: fmt.Sprintf("malformed frame: %v", err)}), nil
	}

	switch m.Type {
	case syncwire.TypePing:
		return mustMarshal(syncwire.Message{Type: syncwire.TypePong, PingID: m.PingID}), nil

	case syncwire.TypeOp:
		if _, err := s.log.Append(m.Op); err != nil {
			return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: fmt.Sprintf("append: %v", err)}), nil
		}
		if _, err := s.apply(m.Op); err != nil {
			return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: fmt.Sprintf("apply: %v", err)}), nil
		}
		return nil, mustMarshal(m)

	case syncwire.TypeSync:
		ops, err := s.opsSince(m.Since)
		if err != nil {
			return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: err.Error()}), nil
		}
		return mustMarshal(syncwire.Message{Type: syncwire.TypeSyncResponse, Ops: ops}), nil

	case syncwire.TypeSnapshot:
		issues, tags, high, err := s.snapshot()
		if err != nil {
			return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: err.Error()}), nil
		}
		return mustMarshal(syncwire.Message{Type: syncwire.TypeSnapshotResponse, Issues: issues, Tags: tags, Since: high}), nil

	case syncwire.TypeHello:
		return mustMarshal(syncwire.Message{Type: syncwire.TypeHello, Version: m.Version}), nil

	default:
		return mustMarshal(syncwire.Message{Type: syncwire.TypeError, ErrorMessage: fmt.Sprintf("unknown frame type %q", m.Type)}), nil
	}
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.send(data)
	}
}

// opsSince returns every logged op with an HLC strictly after since,
// in HLC order, for a sync_response (§4.8).
func (s *Server) opsSince(since hlc.Clock) ([]op.Op, error) {
	ops, err := s.log.Since(since)
	if err != nil {
		return nil, fmt.Errorf("syncserver: read oplog: %w", err)
	}
	return ops, nil
}

// snapshot builds the full current-state projection for a
// snapshot_response: every issue, every (issue, label) tag pair, and
// the highest HLC recorded in the oplog so the receiving client can
// request an incremental sync from that point onward (§4.8).
func (s *Server) snapshot() ([]syncwire.SnapshotIssue, [][2]string, hlc.Clock, error) {
	issues, err := s.db.ListIssues(sqlite.ListFilter{})
	if err != nil {
		return nil, nil, hlc.Clock{}, fmt.Errorf("syncserver: list issues: %w", err)
	}

	out := make([]syncwire.SnapshotIssue, 0, len(issues))
	var tags [][2]string
	for _, iss := range issues {
		out = append(out, syncwire.SnapshotIssue{
			ID:          iss.ID,
			Type:        iss.Type,
			Title:       iss.Title,
			Description: iss.Description.String,
			Status:      iss.Status,
			Assignee:    iss.Assignee.String,
			CreatedAt:   iss.CreatedAt,
			UpdatedAt:   iss.UpdatedAt,
			ClosedAt:    iss.ClosedAt.Int64,
		})
		labels, err := s.db.Labels(iss.ID)
		if err != nil {
			return nil, nil, hlc.Clock{}, fmt.Errorf("syncserver: labels for %s: %w", iss.ID, err)
		}
		for _, l := range labels {
			tags = append(tags, [2]string{iss.ID, l})
		}
	}

	all, err := s.log.ReadAll()
	if err != nil {
		return nil, nil, hlc.Clock{}, fmt.Errorf("syncserver: read oplog: %w", err)
	}
	var high hlc.Clock
	for _, o := range all {
		if o.ID.After(high) {
			high = o.ID
		}
	}
	return out, tags, high, nil
}

func mustMarshal(m syncwire.Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// every Message the server constructs here has a fixed, valid
		// Type, so MarshalJSON cannot fail
		panic(fmt.Sprintf("syncserver: marshal %s: %v", m.Type, err))
	}
	return data
}

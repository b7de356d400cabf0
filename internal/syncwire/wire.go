// Package syncwire defines the JSON tagged-union messages exchanged
// over the WebSocket sync protocol (§6.4). Both internal/syncws (client)
// and internal/syncserver (server) import this package so the wire
// shape is defined exactly once.
package syncwire

import (
	"encoding/json"
	"fmt"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
)

// MessageType discriminates the "type" field of every frame.
type MessageType string

const (
	TypeOp               MessageType = "op"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeSync             MessageType = "sync"
	TypeSyncResponse     MessageType = "sync_response"
	TypeSnapshot         MessageType = "snapshot"
	TypeSnapshotResponse MessageType = "snapshot_response"
	TypeHello            MessageType = "hello"
	TypeError            MessageType = "error"
)

// Message is the decoded form of one frame. Exactly one of the typed
// fields below is populated, selected by Type.
type Message struct {
	Type MessageType

	Op           op.Op
	PingID       int64
	Since        hlc.Clock
	Ops          []op.Op
	Issues       []SnapshotIssue
	Tags         [][2]string
	Version      string
	ErrorMessage string
}

// SnapshotIssue is the flattened projection sent in a snapshot_response
// (§4.8): the full current state of one issue, not an Op.
type SnapshotIssue struct {
	ID          string        `json:"id"`
	Type        op.IssueType  `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      op.Status     `json:"status"`
	Assignee    string        `json:"assignee,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
	ClosedAt    int64         `json:"closed_at,omitempty"`
}

type wireEnvelope struct {
	Type    MessageType     `json:"type"`
	Op      json.RawMessage `json:"op,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Since   *hlc.Clock      `json:"since,omitempty"`
	Ops     []op.Op         `json:"ops,omitempty"`
	Issues  []SnapshotIssue `json:"issues,omitempty"`
	Tags    [][2]string     `json:"tags,omitempty"`
	Version string          `json:"version,omitempty"`
	Message string          `json:"message,omitempty"`
}

// MarshalJSON flattens Message into the wire shape for its Type.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Type: m.Type}
	switch m.Type {
	case TypeOp:
		raw, err := json.Marshal(m.Op)
		if err != nil {
			return nil, fmt.Errorf("syncwire: marshal op: %w", err)
		}
		w.Op = raw
	case TypePing, TypePong:
		id := m.PingID
		w.ID = &id
	case TypeSync:
		since := m.Since
		w.Since = &since
	case TypeSyncResponse:
		w.Ops = m.Ops
	case TypeSnapshot:
		// no fields
	case TypeSnapshotResponse:
		w.Issues = m.Issues
		w.Tags = m.Tags
		since := m.Since
		w.Since = &since
	case TypeHello:
		w.Version = m.Version
	case TypeError:
		w.Message = m.ErrorMessage
	default:
		return nil, fmt.Errorf("syncwire: unknown message type %q", m.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements strict decoding: an unrecognized "type"
// value, or a type whose required field is absent, is an error rather
// than a partially-populated Message (§4.8's "malformed JSON -> Error"
// contract is handled by the caller; this only rejects the truly
// unparseable).
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("syncwire: malformed envelope: %w", err)
	}
	m.Type = w.Type
	switch w.Type {
	case TypeOp:
		if len(w.Op) == 0 {
			return fmt.Errorf("syncwire: %q frame missing op", TypeOp)
		}
		if err := json.Unmarshal(w.Op, &m.Op); err != nil {
			return fmt.Errorf("syncwire: decode op: %w", err)
		}
	case TypePing, TypePong:
		if w.ID == nil {
			return fmt.Errorf("syncwire: %q frame missing id", w.Type)
		}
		m.PingID = *w.ID
	case TypeSync:
		if w.Since == nil {
			return fmt.Errorf("syncwire: %q frame missing since", TypeSync)
		}
		m.Since = *w.Since
	case TypeSyncResponse:
		m.Ops = w.Ops
	case TypeSnapshot:
		// no fields
	case TypeSnapshotResponse:
		m.Issues = w.Issues
		m.Tags = w.Tags
		if w.Since != nil {
			m.Since = *w.Since
		}
	case TypeHello:
		m.Version = w.Version
	case TypeError:
		m.ErrorMessage = w.Message
	default:
		return fmt.Errorf("syncwire: unknown message type %q", w.Type)
	}
	return nil
}

package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/storage/sqlite"
)

// RequestType discriminates the IPC Request tagged union (§4.10, §6.3).
type RequestType string

const (
	ReqPing     RequestType = "ping"
	ReqHello    RequestType = "hello"
	ReqStatus   RequestType = "status"
	ReqSyncNow  RequestType = "sync_now"
	ReqShutdown RequestType = "shutdown"
	ReqQuery    RequestType = "query"
	ReqMutate   RequestType = "mutate"
)

// Request is one decoded IPC frame sent by a CLI process.
type Request struct {
	Type    RequestType
	Version string    // Hello
	Query   QueryOp   // Query
	Mutate  MutateOp  // Mutate
}

// ResponseType discriminates the IPC Response tagged union.
type ResponseType string

const (
	RespPong         ResponseType = "pong"
	RespHello        ResponseType = "hello"
	RespStatus       ResponseType = "status"
	RespSyncComplete ResponseType = "sync_complete"
	RespShuttingDown ResponseType = "shutting_down"
	RespQueryResult  ResponseType = "query_result"
	RespMutateResult ResponseType = "mutate_result"
	RespError        ResponseType = "error"
)

// Response is one encoded IPC frame sent back to the CLI.
type Response struct {
	Type       ResponseType
	Version    string      // Hello
	Status     *Status     // Status
	OpsSynced  int         // SyncComplete
	QueryData  interface{} // QueryResult
	MutateData interface{} // MutateResult
	Error      string      // Error
}

// Status is the daemon's self-reported liveness snapshot (§4.10).
type Status struct {
	Connected    bool   `json:"connected"`
	Connecting   bool   `json:"connecting"`
	RemoteURL    string `json:"remote_url,omitempty"`
	PendingOps   int    `json:"pending_ops"`
	LastSyncUnix int64  `json:"last_sync,omitempty"`
	PID          int    `json:"pid"`
	UptimeSecs   int64  `json:"uptime_secs"`
}

// --- QueryOp: the read-only dispatch surface into C4 ---

type QueryKind string

const (
	QueryGetIssue      QueryKind = "get_issue"
	QueryListIssues    QueryKind = "list_issues"
	QuerySearchIssues  QueryKind = "search_issues"
	QueryResolveID     QueryKind = "resolve_id"
	QueryBlockedIssues QueryKind = "blocked_issues"
)

type QueryOp struct {
	Kind    QueryKind
	ID      string
	Partial string
	Text    string
	Filter  sqlite.ListFilter
}

// --- MutateOp: the mutating dispatch surface into C5/C6 ---

type MutateKind string

const (
	MutateSingleOp   MutateKind = "op" // wraps a single op.Payload
	MutateStartBulk  MutateKind = "start"
	MutateDoneBulk   MutateKind = "done"
	MutateCloseBulk  MutateKind = "close"
	MutateReopenBulk MutateKind = "reopen"
)

// MutateOp is either a single Op-producing mutation (Payload set) or a
// bulk status-transition request (Kind + IDs set) that fans out to one
// SetStatus Op per id and aggregates failures into a
// wokerrors.PartialBulkFailure (§7, scenario S4).
type MutateOp struct {
	Kind    MutateKind
	Payload op.Payload
	IDs     []string
	Reason  string
}

// --- wire envelopes ---

type requestEnvelope struct {
	Type    RequestType     `json:"type"`
	Version string          `json:"version,omitempty"`
	Query   *queryEnvelope  `json:"query,omitempty"`
	Mutate  *mutateEnvelope `json:"mutate,omitempty"`
}

type queryEnvelope struct {
	Kind    QueryKind        `json:"kind"`
	ID      string           `json:"id,omitempty"`
	Partial string           `json:"partial,omitempty"`
	Text    string           `json:"text,omitempty"`
	Filter  sqlite.ListFilter `json:"filter,omitempty"`
}

type mutateEnvelope struct {
	Kind    MutateKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	IDs     []string        `json:"ids,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// MarshalJSON flattens Request into its wire envelope.
func (r Request) MarshalJSON() ([]byte, error) {
	w := requestEnvelope{Type: r.Type, Version: r.Version}
	switch r.Type {
	case ReqQuery:
		w.Query = &queryEnvelope{Kind: r.Query.Kind, ID: r.Query.ID, Partial: r.Query.Partial, Text: r.Query.Text, Filter: r.Query.Filter}
	case ReqMutate:
		me := mutateEnvelope{Kind: r.Mutate.Kind, IDs: r.Mutate.IDs, Reason: r.Mutate.Reason}
		if r.Mutate.Payload != nil {
			op := op.Op{Payload: r.Mutate.Payload}
			full, err := json.Marshal(op)
			if err != nil {
				return nil, fmt.Errorf("daemon: marshal mutate payload: %w", err)
			}
			// op.Op.MarshalJSON nests payload under "payload"; re-extract it.
			var wrapped struct {
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(full, &wrapped); err != nil {
				return nil, err
			}
			me.Payload = wrapped.Payload
		}
		w.Mutate = &me
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the strict Request tagged union.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("daemon: malformed request: %w", err)
	}
	r.Type = w.Type
	r.Version = w.Version
	switch w.Type {
	case ReqPing, ReqHello, ReqStatus, ReqSyncNow, ReqShutdown:
		// no further fields required
	case ReqQuery:
		if w.Query == nil {
			return fmt.Errorf("daemon: query request missing query field")
		}
		r.Query = QueryOp{Kind: w.Query.Kind, ID: w.Query.ID, Partial: w.Query.Partial, Text: w.Query.Text, Filter: w.Query.Filter}
	case ReqMutate:
		if w.Mutate == nil {
			return fmt.Errorf("daemon: mutate request missing mutate field")
		}
		m := MutateOp{Kind: w.Mutate.Kind, IDs: w.Mutate.IDs, Reason: w.Mutate.Reason}
		if len(w.Mutate.Payload) > 0 {
			var holder struct {
				ID      hlc.Clock       `json:"id"`
				Payload json.RawMessage `json:"payload"`
			}
			holder.Payload = w.Mutate.Payload
			envelope, err := json.Marshal(holder)
			if err != nil {
				return err
			}
			var o op.Op
			if err := json.Unmarshal(envelope, &o); err != nil {
				return fmt.Errorf("daemon: decode mutate payload: %w", err)
			}
			m.Payload = o.Payload
		}
		r.Mutate = m
	default:
		return fmt.Errorf("daemon: unknown request type %q", w.Type)
	}
	return nil
}

type responseEnvelope struct {
	Type       ResponseType    `json:"type"`
	Version    string          `json:"version,omitempty"`
	Status     *Status         `json:"status,omitempty"`
	OpsSynced  int             `json:"ops_synced,omitempty"`
	QueryData  json.RawMessage `json:"query_data,omitempty"`
	MutateData json.RawMessage `json:"mutate_data,omitempty"`
	Error      string          `json:"message,omitempty"`
}

// MarshalJSON flattens Response into its wire envelope.
func (r Response) MarshalJSON() ([]byte, error) {
	w := responseEnvelope{Type: r.Type, Version: r.Version, Status: r.Status, OpsSynced: r.OpsSynced, Error: r.Error}
	if r.QueryData != nil {
		raw, err := json.Marshal(r.QueryData)
		if err != nil {
			return nil, fmt.Errorf("daemon: marshal query_data: %w", err)
		}
		w.QueryData = raw
	}
	if r.MutateData != nil {
		raw, err := json.Marshal(r.MutateData)
		if err != nil {
			return nil, fmt.Errorf("daemon: marshal mutate_data: %w", err)
		}
		w.MutateData = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON leaves QueryData/MutateData as raw JSON; callers decode
// into the concrete shape they expect for the request they made.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w responseEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("daemon: malformed response: %w", err)
	}
	r.Type = w.Type
	r.Version = w.Version
	r.Status = w.Status
	r.OpsSynced = w.OpsSynced
	r.Error = w.Error
	if len(w.QueryData) > 0 {
		r.QueryData = w.QueryData
	}
	if len(w.MutateData) > 0 {
		r.MutateData = w.MutateData
	}
	return nil
}

// errorResponse is a small helper used throughout the dispatch code.
func errorResponse(err error) Response {
	return Response{Type: RespError, Error: err.Error()}
}

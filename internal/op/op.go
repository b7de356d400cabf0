// Package op defines the tagged-union mutation type that is the unit of
// replication for wok: every change to an issue is represented as an Op
// carrying an HLC timestamp and an OpPayload variant, and the canonical
// state of an issue is whatever folding every Op in id order produces
// (see internal/merge).
package op

import (
	"encoding/json"
	"fmt"

	"github.com/wok-oss/wok/internal/hlc"
)

// Kind discriminates OpPayload variants. The set is exhaustive and
// closed: adding a new kind is a protocol change, not a data change.
type Kind string

const (
	KindCreateIssue   Kind = "create_issue"
	KindSetStatus     Kind = "set_status"
	KindSetTitle      Kind = "set_title"
	KindSetType       Kind = "set_type"
	KindSetDescription Kind = "set_description"
	KindSetAssignee   Kind = "set_assignee"
	KindAddLabel      Kind = "add_label"
	KindRemoveLabel   Kind = "remove_label"
	KindAddNote       Kind = "add_note"
	KindAddDep        Kind = "add_dep"
	KindRemoveDep     Kind = "remove_dep"
	KindAddLink       Kind = "add_link"
	KindRemoveLink    Kind = "remove_link"
	KindConfigRename  Kind = "config_rename"
)

// IssueType enumerates the closed set of issue types from §3.3.
type IssueType string

const (
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeBug     IssueType = "bug"
	TypeChore   IssueType = "chore"
	TypeIdea    IssueType = "idea"
	TypeEpic    IssueType = "epic"
)

func (t IssueType) Valid() bool {
	switch t {
	case TypeFeature, TypeTask, TypeBug, TypeChore, TypeIdea, TypeEpic:
		return true
	}
	return false
}

// Status enumerates the closed set of issue statuses from §3.3.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusClosed     Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the status represents a closed-out issue,
// used to decide whether closed_at should be set or cleared on apply.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusClosed
}

// Relation enumerates the dependency edge kinds from §3.4.
type Relation string

const (
	RelBlocks     Relation = "blocks"
	RelTrackedBy  Relation = "tracked-by"
	RelTracks     Relation = "tracks"
)

func (r Relation) Valid() bool {
	switch r {
	case RelBlocks, RelTrackedBy, RelTracks:
		return true
	}
	return false
}

// Payload is implemented by every OpPayload variant; Kind() supplies
// the wire discriminator.
type Payload interface {
	Kind() Kind
}

// CreateIssue's issue type travels as "issue_type" because "type" is the
// payload discriminator on the wire (see Op.MarshalJSON); SetType and
// AddLink rename their type fields for the same reason.
type CreateIssue struct {
	ID    string    `json:"id"`
	Type  IssueType `json:"issue_type"`
	Title string    `json:"title"`
}

func (CreateIssue) Kind() Kind { return KindCreateIssue }

type SetStatus struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (SetStatus) Kind() Kind { return KindSetStatus }

type SetTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (SetTitle) Kind() Kind { return KindSetTitle }

type SetType struct {
	ID   string    `json:"id"`
	Type IssueType `json:"issue_type"`
}

func (SetType) Kind() Kind { return KindSetType }

type SetDescription struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func (SetDescription) Kind() Kind { return KindSetDescription }

// SetAssignee models clearing the assignee as Assignee == nil, per §4.2.
type SetAssignee struct {
	ID       string  `json:"id"`
	Assignee *string `json:"assignee"`
}

func (SetAssignee) Kind() Kind { return KindSetAssignee }

type AddLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (AddLabel) Kind() Kind { return KindAddLabel }

type RemoveLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (RemoveLabel) Kind() Kind { return KindRemoveLabel }

type AddNote struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (AddNote) Kind() Kind { return KindAddNote }

type AddDep struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

func (AddDep) Kind() Kind { return KindAddDep }

type RemoveDep struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

func (RemoveDep) Kind() Kind { return KindRemoveDep }

type AddLink struct {
	ID         string `json:"id"`
	Type       string `json:"link_type,omitempty"`
	URL        string `json:"url,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Rel        string `json:"rel,omitempty"`
}

func (AddLink) Kind() Kind { return KindAddLink }

type RemoveLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (RemoveLink) Kind() Kind { return KindRemoveLink }

type ConfigRename struct {
	OldPrefix string `json:"old_prefix"`
	NewPrefix string `json:"new_prefix"`
}

func (ConfigRename) Kind() Kind { return KindConfigRename }

// Op is the unit of replication: an HLC timestamp paired with a tagged
// payload. The Id doubles as the op's global unique identifier and its
// merge priority (§4.2). Two Ops are Equal iff their ids match.
type Op struct {
	ID      hlc.Clock
	Payload Payload
}

func (o Op) Equal(other Op) bool { return o.ID == other.ID }

// Less orders ops by id, which is the only order the merge engine and
// the oplog ever use.
func (o Op) Less(other Op) bool { return o.ID.Less(other.ID) }

// wireOp is the canonical on-the-wire / on-disk shape: a top-level
// {"id", "payload"} envelope where payload carries its own "type"
// discriminator, per §4.2/§6.2.
type wireOp struct {
	ID      hlc.Clock       `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type wirePayload struct {
	Type Kind `json:"type"`
}

// MarshalJSON implements json.Marshaler, flattening the payload's own
// fields alongside its "type" discriminator.
func (o Op) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("op: marshal payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("op: payload did not marshal to an object: %w", err)
	}
	typeJSON, err := json.Marshal(o.Payload.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	payloadJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOp{ID: o.ID, Payload: payloadJSON})
}

// UnmarshalJSON implements json.Unmarshaler. Deserialization is strict:
// an unrecognized "type" discriminator fails the whole Op rather than
// silently producing a zero-value payload (§4.2).
func (o *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("op: malformed envelope: %w", err)
	}
	var tag wirePayload
	if err := json.Unmarshal(w.Payload, &tag); err != nil {
		return fmt.Errorf("op: malformed payload: %w", err)
	}
	payload, err := decodePayload(tag.Type, w.Payload)
	if err != nil {
		return err
	}
	o.ID = w.ID
	o.Payload = payload
	return nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindCreateIssue:
		p = &CreateIssue{}
	case KindSetStatus:
		p = &SetStatus{}
	case KindSetTitle:
		p = &SetTitle{}
	case KindSetType:
		p = &SetType{}
	case KindSetDescription:
		p = &SetDescription{}
	case KindSetAssignee:
		p = &SetAssignee{}
	case KindAddLabel:
		p = &AddLabel{}
	case KindRemoveLabel:
		p = &RemoveLabel{}
	case KindAddNote:
		p = &AddNote{}
	case KindAddDep:
		p = &AddDep{}
	case KindRemoveDep:
		p = &RemoveDep{}
	case KindAddLink:
		p = &AddLink{}
	case KindRemoveLink:
		p = &RemoveLink{}
	case KindConfigRename:
		p = &ConfigRename{}
	default:
		return nil, fmt.Errorf("op: unknown payload type %q", kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("op: decode %q payload: %w", kind, err)
	}
	// Deref back to a value type so Payload implementations stay
	// consistent whether constructed directly (op.CreateIssue{...}) or
	// decoded from the wire.
	switch v := p.(type) {
	case *CreateIssue:
		return *v, nil
	case *SetStatus:
		return *v, nil
	case *SetTitle:
		return *v, nil
	case *SetType:
		return *v, nil
	case *SetDescription:
		return *v, nil
	case *SetAssignee:
		return *v, nil
	case *AddLabel:
		return *v, nil
	case *RemoveLabel:
		return *v, nil
	case *AddNote:
		return *v, nil
	case *AddDep:
		return *v, nil
	case *RemoveDep:
		return *v, nil
	case *AddLink:
		return *v, nil
	case *RemoveLink:
		return *v, nil
	case *ConfigRename:
		return *v, nil
	}
	return nil, fmt.Errorf("op: internal error decoding %q", kind)
}

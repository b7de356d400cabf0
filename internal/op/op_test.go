package op

import (
	"encoding/json"
	"testing"

	"github.com/wok-oss/wok/internal/hlc"
)

func TestOpJSONRoundTrip(t *testing.T) {
	cases := []Op{
		{ID: hlc.New(1000, 0, 1), Payload: CreateIssue{ID: "prj-1", Type: TypeTask, Title: "hello"}},
		{ID: hlc.New(1000, 1, 1), Payload: SetStatus{ID: "prj-1", Status: StatusInProgress, Reason: "starting"}},
		{ID: hlc.New(1000, 2, 1), Payload: SetAssignee{ID: "prj-1", Assignee: nil}},
		{ID: hlc.New(1000, 3, 1), Payload: AddDep{From: "prj-1", To: "prj-2", Relation: RelBlocks}},
		{ID: hlc.New(1000, 4, 1), Payload: ConfigRename{OldPrefix: "old", NewPrefix: "new"}},
	}

	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got Op
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got.ID != want.ID || got.Payload != want.Payload {
			t.Fatalf("round trip mismatch: got %+v, want %+v (wire: %s)", got, want, data)
		}
	}
}

func TestOpUnmarshalUnknownVariantFails(t *testing.T) {
	line := `{"id":"0000000000000001.00000000.00000001","payload":{"type":"delete_universe"}}`
	var o Op
	if err := json.Unmarshal([]byte(line), &o); err == nil {
		t.Fatal("expected error for unknown payload type")
	}
}

func TestOpEqualityByID(t *testing.T) {
	id := hlc.New(1, 0, 1)
	a := Op{ID: id, Payload: SetTitle{ID: "x-1", Title: "a"}}
	b := Op{ID: id, Payload: SetTitle{ID: "x-1", Title: "b"}}
	if !a.Equal(b) {
		t.Fatal("ops with equal ids must be Equal regardless of payload")
	}
}

func TestValidID(t *testing.T) {
	good := []string{"prj-1", "ab-xyz", "a1b-foo-bar", "wok-abc123"}
	for _, id := range good {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}
	bad := []string{"p-1", "11-1", "-1", "prj", "PRJ-1"}
	for _, id := range bad {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}

func TestPrefixPartialIsolation(t *testing.T) {
	// Renaming "old" must not touch "older-1": the prefix token must be
	// followed by a hyphen, not merely a shared string prefix.
	if Prefix("older-1") == "old" {
		t.Fatal("Prefix must not treat 'older' as prefix 'old'")
	}
	if Prefix("old-1") != "old" {
		t.Fatalf("Prefix(old-1) = %q, want old", Prefix("old-1"))
	}
}

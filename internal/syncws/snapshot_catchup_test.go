package syncws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/merge"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/oplog"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/storage/sqlite"
	"github.com/wok-oss/wok/internal/syncserver"
	"github.com/wok-oss/wok/internal/syncwire"
)

// TestSnapshotCatchUp is scenario S3: a fresh client with no persisted
// server HLC connects to a server that already has history, asks for a
// Snapshot, persists the returned high-water HLC, and then round-trips
// a new op through the server. The echoed op carries the same id the
// client already applied locally, so folding it into the cache a
// second time must be a no-op rather than a duplicate write.
func TestSnapshotCatchUp(t *testing.T) {
	serverDB, err := sqlite.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer serverDB.Close()
	serverLog, err := oplog.Open(filepath.Join(t.TempDir(), "server-oplog.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer serverLog.Close()

	sl := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := syncserver.New(serverDB, serverLog, sl)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	// Seed the server with history from some other, already-synced
	// client before the fresh client ever connects.
	seedQueue, err := queue.Open(filepath.Join(t.TempDir(), "seed-queue.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer seedQueue.Close()
	seedClient := New(Config{URL: wsURL, ReconnectMaxDelay: time.Second, ReconnectMaxRetries: 3}, seedQueue, hlc.Clock{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := seedClient.Connect(ctx); err != nil {
		t.Fatalf("seed connect: %v", err)
	}
	seeded := op.Op{ID: hlc.New(100, 0, 9), Payload: op.CreateIssue{ID: "prj-1", Type: op.TypeTask, Title: "seeded"}}
	if err := seedClient.SendOp(seeded); err != nil {
		t.Fatal(err)
	}
	if _, err := seedClient.Recv(); err != nil { // drain the broadcast of its own op
		t.Fatal(err)
	}
	seedClient.Close()

	// A fresh client, with no persisted server HLC, connects and asks
	// for a snapshot instead of replaying the whole oplog from zero.
	clientDB, err := sqlite.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer clientDB.Close()
	clientQueue, err := queue.Open(filepath.Join(t.TempDir(), "client-queue.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer clientQueue.Close()

	client := New(Config{URL: wsURL, ReconnectMaxDelay: time.Second, ReconnectMaxRetries: 3}, clientQueue, hlc.Clock{})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer client.Close()

	if err := client.RequestSnapshot(); err != nil {
		t.Fatal(err)
	}
	snap, err := client.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Type != syncwire.TypeSnapshotResponse {
		t.Fatalf("got %s, want snapshot_response", snap.Type)
	}
	if snap.Since != seeded.ID {
		t.Fatalf("snapshot since = %s, want %s", snap.Since, seeded.ID)
	}
	for _, iss := range snap.Issues {
		created := op.Op{ID: seeded.ID, Payload: op.CreateIssue{ID: iss.ID, Type: iss.Type, Title: iss.Title}}
		if _, err := merge.Apply(clientDB, created); err != nil {
			t.Fatalf("apply snapshot issue: %v", err)
		}
	}
	// Create a new local op and round-trip it through the server; by
	// the time it comes back, the client has already applied it
	// optimistically (as a real daemon would on the commit path), so
	// folding the echo must be a no-op rather than overwrite anything.
	local := op.Op{ID: hlc.New(200, 0, 1), Payload: op.SetTitle{ID: "prj-1", Title: "local edit"}}
	if ok, err := merge.Apply(clientDB, local); err != nil || !ok {
		t.Fatalf("optimistic local apply: ok=%v err=%v", ok, err)
	}
	if err := client.SendOp(local); err != nil {
		t.Fatal(err)
	}
	echoed, err := client.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if echoed.Type != syncwire.TypeOp || echoed.Op.ID != local.ID {
		t.Fatalf("echoed = %+v, want op %s back", echoed, local.ID)
	}
	if client.LastHLC() != local.ID {
		t.Fatalf("LastHLC = %s, want %s (server-assigned order for echoed op)", client.LastHLC(), local.ID)
	}

	changed, err := merge.Apply(clientDB, echoed.Op)
	if err != nil {
		t.Fatalf("fold echoed op: %v", err)
	}
	if changed {
		t.Fatal("folding an already-applied op back from the server must be a no-op on the cache")
	}

	iss, err := clientDB.GetIssue("prj-1")
	if err != nil {
		t.Fatal(err)
	}
	if iss.Title != "local edit" {
		t.Fatalf("title = %q, want %q", iss.Title, "local edit")
	}
}

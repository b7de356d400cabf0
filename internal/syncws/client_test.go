package syncws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wok-oss/wok/internal/hlc"
	"github.com/wok-oss/wok/internal/op"
	"github.com/wok-oss/wok/internal/queue"
	"github.com/wok-oss/wok/internal/syncwire"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m syncwire.Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			switch m.Type {
			case syncwire.TypePing:
				reply, _ := json.Marshal(syncwire.Message{Type: syncwire.TypePong, PingID: m.PingID})
				_ = conn.WriteMessage(websocket.TextMessage, reply)
			case syncwire.TypeOp:
				reply, _ := json.Marshal(m)
				_ = conn.WriteMessage(websocket.TextMessage, reply)
			}
		}
	})
	return httptest.NewServer(handler)
}

func TestClientConnectSendReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	q, err := queue.Open(t.TempDir() + "/queue.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	c := New(Config{URL: wsURL, ReconnectMaxDelay: time.Second, ReconnectMaxRetries: 3}, q, hlc.Clock{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if c.State() != Connected {
		t.Fatalf("state = %s, want connected", c.State())
	}

	o := op.Op{ID: hlc.New(10, 0, 1), Payload: op.SetTitle{ID: "a-1", Title: "hi"}}
	if err := c.SendOp(o); err != nil {
		t.Fatal(err)
	}

	got, err := c.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != syncwire.TypeOp || got.Op.ID != o.ID {
		t.Fatalf("got %+v, want echoed op %s", got, o.ID)
	}
	if c.LastHLC() != o.ID {
		t.Fatalf("LastHLC = %s, want %s", c.LastHLC(), o.ID)
	}
}

func TestClientQueuesOpsWhileDisconnected(t *testing.T) {
	q, err := queue.Open(t.TempDir() + "/queue.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	c := New(Config{}, q, hlc.Clock{})
	o := op.Op{ID: hlc.New(10, 0, 1), Payload: op.SetTitle{ID: "a-1", Title: "hi"}}
	if err := c.SendOp(o); err != nil {
		t.Fatal(err)
	}

	ops, err := q.PeekAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("queued ops = %d, want 1", len(ops))
	}
}

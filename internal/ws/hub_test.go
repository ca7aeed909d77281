package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startHub runs a hub and an HTTP server upgrading at its root. The Run
// goroutine has no stop switch, exactly like production; it dies with the
// test process.
func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(nil)
	go h.Run()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connPair upgrades one socket and hands back both ends, bypassing ServeWS
// so tests can build a Client by hand.
func connPair(t *testing.T) (server, dialer *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ch := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch <- conn
	}))
	t.Cleanup(srv.Close)

	dialer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { dialer.Close() })
	return <-ch, dialer
}

// readUntil consumes frames until one of the wanted type arrives and returns
// its payload. Frames of other types (CONNECTION_COUNT chatter etc.) are
// skipped.
func readUntil(t *testing.T, conn *websocket.Conn, want MsgType) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var f struct {
			Type MsgType         `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if f.Type == want {
			return f.Data
		}
	}
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connection count = %d, want %d", h.ConnectionCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastFanout(t *testing.T) {
	h, url := startHub(t)

	a := dial(t, url)
	waitCount(t, h, 1) // a registered before b dials
	b := dial(t, url+"?address=0xfeed")
	waitCount(t, h, 2)

	// The first client's own registration is the first broadcast queued, so
	// its first CONNECTION_COUNT frame always reads 1.
	var cc ConnectionCountData
	if err := json.Unmarshal(readUntil(t, a, MsgConnectionCount), &cc); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if cc.Count != 1 {
		t.Errorf("first count = %d, want 1", cc.Count)
	}

	h.Broadcast(MsgGameState, GameStateData{Active: true})

	for _, conn := range []*websocket.Conn{a, b} {
		var gs GameStateData
		if err := json.Unmarshal(readUntil(t, conn, MsgGameState), &gs); err != nil {
			t.Fatalf("decode game state: %v", err)
		}
		if !gs.Active {
			t.Error("active = false, want true")
		}
	}
}

func TestHubSendToScopedByAddress(t *testing.T) {
	h, url := startHub(t)

	target := dial(t, url+"?address=0xAbCd")
	other := dial(t, url)
	waitCount(t, h, 2)

	// Mixed case on both ends; registration and lookup both lowercase.
	h.SendTo("0xABCD", MsgBetResult, map[string]string{"result": "WIN"})
	readUntil(t, target, MsgBetResult)

	// The sentinel is enqueued after the targeted send. Per-socket order is
	// FIFO, so if the anonymous client ever got the BET_RESULT it would show
	// up before the sentinel.
	h.Broadcast(MsgGameState, GameStateData{Active: true})
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = other.SetReadDeadline(deadline)
		_, raw, err := other.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for sentinel: %v", err)
		}
		var f struct {
			Type MsgType `json:"type"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if f.Type == MsgBetResult {
			t.Fatal("targeted message leaked to an anonymous client")
		}
		if f.Type == MsgGameState {
			break
		}
	}
}

func TestHubDropsStalledClient(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	srvConn, dialConn := connPair(t)

	// Hand-built client with a one-slot buffer and no writePump, so the
	// queue never drains. Registration itself enqueues a CONNECTION_COUNT
	// frame that fills the slot.
	client := &Client{hub: h, conn: srvConn, send: make(chan []byte, 1)}
	h.register <- client
	waitCount(t, h, 1)

	// The next broadcast cannot be queued; the hub must drop the client
	// instead of blocking.
	h.Broadcast(MsgGameState, GameStateData{Active: false})
	waitCount(t, h, 0)

	// Dropping closed the server side of the socket.
	_ = dialConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := dialConn.ReadMessage(); err != nil {
			if e, ok := err.(interface{ Timeout() bool }); ok && e.Timeout() {
				t.Fatal("socket still open after drop")
			}
			break
		}
	}

	// Later broadcasts must not touch the dropped client's closed channel.
	h.Broadcast(MsgGameState, GameStateData{Active: true})
}

func TestHubClearClosesAllSockets(t *testing.T) {
	h, url := startHub(t)

	a := dial(t, url)
	b := dial(t, url+"?address=0xcafe")
	waitCount(t, h, 2)

	h.Clear()

	if got := h.ConnectionCount(); got != 0 {
		t.Fatalf("count after clear = %d, want 0", got)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}

type stubState struct {
	addr chan string
}

func (s *stubState) StateSync(_ context.Context, address string) (*StateSyncData, error) {
	select {
	case s.addr <- address:
	default:
	}
	return &StateSyncData{GameActive: true, ConnectionCount: 1}, nil
}

func TestServeWSPushesStateSync(t *testing.T) {
	h, url := startHub(t)
	stub := &stubState{addr: make(chan string, 1)}
	h.SetStateProvider(stub)

	conn := dial(t, url+"?address=0xAbC")

	var snap StateSyncData
	if err := json.Unmarshal(readUntil(t, conn, MsgStateSync), &snap); err != nil {
		t.Fatalf("decode state sync: %v", err)
	}
	if !snap.GameActive {
		t.Error("gameActive = false, want true")
	}

	select {
	case got := <-stub.addr:
		if got != "0xabc" {
			t.Errorf("provider saw address %q, want %q", got, "0xabc")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state provider never called")
	}
}

package clearnode_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
)

// ── Mock broker ───────────────────────────────────────────────────────────────

// brokerFunc handles one non-auth request frame. It owns the response: use
// writeRes (possibly more than once) on the connection.
type brokerFunc func(conn *websocket.Conn, id uint64, method string, params json.RawMessage)

type mockBroker struct {
	t        *testing.T
	srv      *httptest.Server
	handle   brokerFunc
	upgrades atomic.Int32

	mu          sync.Mutex
	authRequest json.RawMessage
	authVerify  json.RawMessage
}

func newMockBroker(t *testing.T, handle brokerFunc) *mockBroker {
	t.Helper()
	b := &mockBroker{t: t, handle: handle}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.upgrades.Add(1)
		defer conn.Close()
		b.serve(conn)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *mockBroker) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *mockBroker) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Req []json.RawMessage `json:"req"`
			Sig []string          `json:"sig"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || len(frame.Req) < 3 {
			b.t.Errorf("broker: malformed frame: %s", data)
			return
		}
		if len(frame.Sig) == 0 || !strings.HasPrefix(frame.Sig[0], "0x") {
			b.t.Errorf("broker: frame without 0x signature: %s", data)
		}

		var id uint64
		_ = json.Unmarshal(frame.Req[0], &id)
		var method string
		_ = json.Unmarshal(frame.Req[1], &method)
		params := frame.Req[2]

		switch method {
		case "auth_request":
			b.mu.Lock()
			b.authRequest = params
			b.mu.Unlock()
			writeRes(conn, id, "auth_challenge", map[string]string{"challenge_message": "c-7281"})
		case "auth_verify":
			b.mu.Lock()
			b.authVerify = params
			b.mu.Unlock()
			writeRes(conn, id, "auth_verify", map[string]bool{"success": true})
		default:
			b.handle(conn, id, method, params)
		}
	}
}

func writeRes(conn *websocket.Conn, id uint64, method string, result any) {
	frame := map[string]any{
		"res": []any{id, method, result, time.Now().UnixMilli()},
		"sig": []string{"0x00"},
	}
	_ = conn.WriteJSON(frame)
}

func newTestClient(t *testing.T, broker *mockBroker, timeout time.Duration) *clearnode.Client {
	t.Helper()
	client, err := clearnode.New(config.ClearnodeConfig{
		URL:         broker.wsURL(),
		AppName:     "pitchside-test",
		AssetSymbol: "ytest.usd",
		RPCTimeout:  timeout,
	})
	if err != nil {
		t.Fatalf("clearnode.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func balancesHandler(amount string) brokerFunc {
	return func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		writeRes(conn, id, method, []map[string]string{
			{"asset": "ytest.usd", "amount": amount},
			{"asset": "other", "amount": "999999999"},
		})
	}
}

// ── Connection tests ──────────────────────────────────────────────────────────

func TestClientConnectsLazilyAndAuthenticates(t *testing.T) {
	broker := newMockBroker(t, balancesHandler("2500000"))
	client := newTestClient(t, broker, 2*time.Second)

	if client.IsConnected() {
		t.Fatal("client connected before first call")
	}
	if got := broker.upgrades.Load(); got != 0 {
		t.Fatalf("broker saw %d connections before first call", got)
	}

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("balance = %s, want 2.5", balance)
	}
	if !client.IsConnected() {
		t.Fatal("client not connected after successful call")
	}

	broker.mu.Lock()
	authReq, authVerify := broker.authRequest, broker.authVerify
	broker.mu.Unlock()

	var req struct {
		Address string `json:"address"`
		AppName string `json:"app_name"`
		Scope   string `json:"scope"`
	}
	if err := json.Unmarshal(authReq, &req); err != nil {
		t.Fatalf("auth_request params: %v", err)
	}
	if req.Address != client.Address() {
		t.Errorf("auth_request address = %s, want %s", req.Address, client.Address())
	}
	if req.AppName != "pitchside-test" {
		t.Errorf("auth_request app_name = %s", req.AppName)
	}
	if req.Scope != "console" {
		t.Errorf("auth_request scope = %s", req.Scope)
	}

	var verify struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(authVerify, &verify); err != nil {
		t.Fatalf("auth_verify params: %v", err)
	}
	if verify.Challenge != "c-7281" {
		t.Errorf("auth_verify echoed challenge %q", verify.Challenge)
	}
}

func TestClientConcurrentCallsShareOneConnection(t *testing.T) {
	broker := newMockBroker(t, balancesHandler("1000000"))
	client := newTestClient(t, broker, 2*time.Second)

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetBalance(context.Background())
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent GetBalance: %v", err)
		}
	}
	if got := broker.upgrades.Load(); got != 1 {
		t.Fatalf("broker saw %d connections, want 1", got)
	}
}

func TestClientTimesOutWhenBrokerIsSilent(t *testing.T) {
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		// Swallow the request.
	})
	client := newTestClient(t, broker, 150*time.Millisecond)

	_, err := client.GetBalance(context.Background())
	if !errors.Is(err, domain.ErrRPCTimeout) {
		t.Fatalf("err = %v, want ErrRPCTimeout", err)
	}
}

func TestClientErrorFrameOnlyFailsItsOwnRequest(t *testing.T) {
	var calls atomic.Int32
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		if calls.Add(1) == 1 {
			writeRes(conn, id, "error", map[string]string{"error": "insufficient unified balance"})
			return
		}
		writeRes(conn, id, method, []map[string]string{{"asset": "ytest.usd", "amount": "750000"}})
	})
	client := newTestClient(t, broker, 2*time.Second)

	_, err := client.GetBalance(context.Background())
	if !errors.Is(err, domain.ErrRemoteRPC) {
		t.Fatalf("first call err = %v, want ErrRemoteRPC", err)
	}
	if err == nil || !strings.Contains(err.Error(), "insufficient unified balance") {
		t.Fatalf("error should carry the broker message, got %v", err)
	}

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("second call after error frame: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("balance = %s, want 0.75", balance)
	}
}

func TestClientIgnoresUnsolicitedFrames(t *testing.T) {
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		writeRes(conn, 424242, "bu", map[string]string{"asset": "ytest.usd", "amount": "1"})
		writeRes(conn, id, method, []map[string]string{{"asset": "ytest.usd", "amount": "3000000"}})
	})
	client := newTestClient(t, broker, 2*time.Second)

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("balance = %s, want 3", balance)
	}
}

// ── Operation tests ───────────────────────────────────────────────────────────

func TestCreateAppSessionParams(t *testing.T) {
	type captured struct {
		Definition struct {
			Protocol     string   `json:"protocol"`
			Participants []string `json:"participants"`
			Weights      []int64  `json:"weights"`
			Quorum       int64    `json:"quorum"`
		} `json:"definition"`
		Allocations []clearnode.Allocation `json:"allocations"`
		SessionData string                 `json:"session_data"`
	}
	var (
		mu  sync.Mutex
		got captured
	)
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		if method != "create_app_session" {
			t.Errorf("method = %s, want create_app_session", method)
		}
		mu.Lock()
		_ = json.Unmarshal(params, &got)
		mu.Unlock()
		writeRes(conn, id, method, map[string]any{
			"app_session_id": "0xsession1",
			"version":        1,
			"status":         "open",
		})
	})
	client := newTestClient(t, broker, 2*time.Second)

	user := "0x1111111111111111111111111111111111111111"
	allocations := []clearnode.Allocation{
		clearnode.NewAllocation(user, "ytest.usd", decimal.RequireFromString("10")),
		clearnode.NewAllocation(client.Address(), "ytest.usd", decimal.Zero),
	}
	session, err := client.CreateAppSession(context.Background(), user, allocations, []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("CreateAppSession: %v", err)
	}
	if session.AppSessionID != "0xsession1" || session.Version != 1 {
		t.Fatalf("session = %+v", session)
	}

	mu.Lock()
	defer mu.Unlock()
	wantParticipants := []string{user, client.Address()}
	if len(got.Definition.Participants) != 2 ||
		got.Definition.Participants[0] != wantParticipants[0] ||
		got.Definition.Participants[1] != wantParticipants[1] {
		t.Errorf("participants = %v, want %v", got.Definition.Participants, wantParticipants)
	}
	if got.Definition.Quorum != 1 {
		t.Errorf("quorum = %d, want 1", got.Definition.Quorum)
	}
	if len(got.Allocations) != 2 || got.Allocations[0].Amount != "10000000" {
		t.Errorf("allocations = %+v", got.Allocations)
	}
	if got.SessionData != `{"v":1}` {
		t.Errorf("session_data = %s", got.SessionData)
	}
}

func TestSubmitAppStateCarriesVersionAndIntent(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]any
	)
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		mu.Lock()
		_ = json.Unmarshal(params, &got)
		mu.Unlock()
		writeRes(conn, id, method, map[string]any{
			"app_session_id": "0xsession1",
			"version":        5,
			"status":         "open",
		})
	})
	client := newTestClient(t, broker, 2*time.Second)

	session, err := client.SubmitAppState(context.Background(), "0xsession1", clearnode.IntentOperate, 5, nil, []byte(`{"v":2}`))
	if err != nil {
		t.Fatalf("SubmitAppState: %v", err)
	}
	if session.Version != 5 {
		t.Fatalf("version = %d, want 5", session.Version)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["intent"] != "operate" {
		t.Errorf("intent = %v", got["intent"])
	}
	if got["version"] != float64(5) {
		t.Errorf("version = %v", got["version"])
	}
	if got["app_session_id"] != "0xsession1" {
		t.Errorf("app_session_id = %v", got["app_session_id"])
	}
}

func TestGetBalanceMissingAssetIsZero(t *testing.T) {
	broker := newMockBroker(t, func(conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
		writeRes(conn, id, method, []map[string]string{{"asset": "other", "amount": "5000000"}})
	})
	client := newTestClient(t, broker, 2*time.Second)

	balance, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("balance = %s, want 0", balance)
	}
}

// ── Allocation helpers ────────────────────────────────────────────────────────

func TestNewAllocationUsesMicroUnits(t *testing.T) {
	tests := []struct {
		dollars string
		want    string
	}{
		{"0", "0"},
		{"1", "1000000"},
		{"2.5", "2500000"},
		{"0.000001", "1"},
		{"123.456789", "123456789"},
	}
	for _, tt := range tests {
		alloc := clearnode.NewAllocation("0xabc", "ytest.usd", decimal.RequireFromString(tt.dollars))
		if alloc.Amount != tt.want {
			t.Errorf("NewAllocation(%s) amount = %s, want %s", tt.dollars, alloc.Amount, tt.want)
		}
	}
}

// Package clearnode implements the client for the external state-channel
// settlement service. One long-lived WebSocket connection carries signed
// JSON-RPC frames; responses are routed back to callers through a pending-
// request map. Connection establishment is lazy: the first RPC dials and
// authenticates, later RPCs reuse the socket, and a dropped socket is
// re-dialed transparently on the next call.
//
// Wire format:
//
//	request:  {"req": [id, method, params, ts], "sig": ["0x.."]}
//	response: {"res": [id, method, result, ts], "sig": ["0x.."]}
//
// Frames are signed with the market-maker key (EIP-191 personal-sign over
// the canonical req payload); error replies arrive with method "error".
package clearnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
)

const defaultRPCTimeout = 15 * time.Second

// SubmitAppState intents.
const (
	IntentOperate  = "operate"
	IntentDeposit  = "deposit"
	IntentWithdraw = "withdraw"
)

// Allocation assigns a micro-unit amount of an asset to a participant
// within a session's balance split.
type Allocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"` // integer micro-units, decimal string
}

// NewAllocation builds an allocation from a decimal dollar amount.
func NewAllocation(participant, asset string, dollars decimal.Decimal) Allocation {
	return Allocation{
		Participant: participant,
		Asset:       asset,
		Amount:      domain.MicroUnitString(dollars),
	}
}

// AppSession mirrors the broker's view of one settlement session.
type AppSession struct {
	AppSessionID string `json:"app_session_id"`
	Version      int64  `json:"version"`
	Status       string `json:"status"`
}

// rpcResult carries one response (or failure) to the waiting caller.
type rpcResult struct {
	result json.RawMessage
	err    error
}

// Client is the settlement-service client. Safe for concurrent use.
type Client struct {
	url     string
	appName string
	asset   string
	timeout time.Duration
	signer  *Signer

	reqID atomic.Uint64

	connMu sync.Mutex // guards conn; held across dial+auth so concurrent connects collapse into one
	conn   *websocket.Conn

	writeMu sync.Mutex // serializes socket writes

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResult
}

// New creates a Client from configuration. No connection is made until the
// first RPC.
func New(cfg config.ClearnodeConfig) (*Client, error) {
	signer, err := NewSigner(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &Client{
		url:     cfg.URL,
		appName: cfg.AppName,
		asset:   cfg.AssetSymbol,
		timeout: timeout,
		signer:  signer,
		pending: make(map[uint64]chan rpcResult),
	}, nil
}

// Address returns the market maker's address in 0x hex form.
func (c *Client) Address() string {
	return c.signer.Address().Hex()
}

// Asset returns the configured settlement asset symbol.
func (c *Client) Asset() string {
	return c.asset
}

// IsConnected reports whether the socket is currently up.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Close tears down the connection and fails every in-flight request.
func (c *Client) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	c.failPending(domain.ErrNotConnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Connection lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// ensureConnected dials and authenticates on first use. The mutex is held
// through the whole attempt, so N concurrent first calls produce exactly one
// dial; waiters find the established socket when they acquire the lock.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrNotConnected, c.url, err)
	}

	if err := c.authenticate(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	go c.readLoop(conn)
	slog.Info("clearnode connected", "url", c.url, "address", c.Address())
	return nil
}

// authenticate runs the three-step handshake on a fresh socket, before the
// dispatch loop starts: auth_request → auth_challenge → auth_verify.
func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	defer conn.SetWriteDeadline(time.Time{})

	addr := c.Address()
	expire := time.Now().Add(time.Hour).Unix()

	reqFrame, err := c.buildFrame("auth_request", map[string]any{
		"address":     addr,
		"session_key": addr,
		"app_name":    c.appName,
		"expire":      expireString(expire),
		"scope":       "console",
		"application": addr,
		"allowances":  []Allocation{},
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(reqFrame); err != nil {
		return fmt.Errorf("%w: auth_request: %v", domain.ErrNotConnected, err)
	}

	method, result, err := readFrame(conn)
	if err != nil {
		return err
	}
	if method != "auth_challenge" {
		return fmt.Errorf("%w: expected auth_challenge, got %q", domain.ErrRemoteRPC, method)
	}
	var challenge struct {
		ChallengeMessage string `json:"challenge_message"`
	}
	if err := json.Unmarshal(result, &challenge); err != nil {
		return fmt.Errorf("%w: malformed auth_challenge: %v", domain.ErrRemoteRPC, err)
	}

	sig, err := c.signer.SignChallenge(c.appName, challenge.ChallengeMessage, expire)
	if err != nil {
		return err
	}

	// auth_verify carries the EIP-712 challenge signature in place of the
	// usual payload signature.
	id := c.reqID.Add(1)
	verify := rpcFrame{
		Req: [4]any{id, "auth_verify", map[string]any{"challenge": challenge.ChallengeMessage}, time.Now().UnixMilli()},
		Sig: []string{sig},
	}
	if err := conn.WriteJSON(verify); err != nil {
		return fmt.Errorf("%w: auth_verify: %v", domain.ErrNotConnected, err)
	}

	method, _, err = readFrame(conn)
	if err != nil {
		return err
	}
	if method == "error" {
		return fmt.Errorf("%w: auth rejected", domain.ErrRemoteRPC)
	}
	return nil
}

// readLoop dispatches response frames to their pending channels until the
// socket dies, then fails everything still in flight.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			c.failPending(domain.ErrNotConnected)
			slog.Warn("clearnode disconnected", "error", err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	id, method, result, err := parseFrame(data)
	if err != nil {
		slog.Debug("clearnode: ignoring unparseable frame", "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Unsolicited broker pushes (balance updates etc.) are not consumed.
		slog.Debug("clearnode: dropping unsolicited frame", "method", method, "id", id)
		return
	}

	if method == "error" {
		ch <- rpcResult{err: fmt.Errorf("%w: %s", domain.ErrRemoteRPC, errorMessage(result))}
		return
	}
	ch <- rpcResult{result: result}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: err}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Frame plumbing
// ──────────────────────────────────────────────────────────────────────────────

type rpcFrame struct {
	Req [4]any   `json:"req"`
	Sig []string `json:"sig"`
}

// buildFrame assembles and signs a request frame. The signature covers the
// canonical JSON of the req payload; marshaling the same value again when
// the frame is written reproduces those bytes.
func (c *Client) buildFrame(method string, params any) (*rpcFrame, error) {
	req := [4]any{c.reqID.Add(1), method, params, time.Now().UnixMilli()}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("clearnode.buildFrame marshal: %w", err)
	}
	sig, err := c.signer.SignPayload(payload)
	if err != nil {
		return nil, err
	}
	return &rpcFrame{Req: req, Sig: []string{sig}}, nil
}

// frameID extracts the request id from a built frame.
func (f *rpcFrame) frameID() uint64 {
	id, _ := f.Req[0].(uint64)
	return id
}

// parseFrame pulls (id, method, result) out of a response frame.
func parseFrame(data []byte) (uint64, string, json.RawMessage, error) {
	var frame struct {
		Res []json.RawMessage `json:"res"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return 0, "", nil, err
	}
	if len(frame.Res) < 3 {
		return 0, "", nil, errors.New("res payload too short")
	}
	var id uint64
	if err := json.Unmarshal(frame.Res[0], &id); err != nil {
		return 0, "", nil, fmt.Errorf("res id: %w", err)
	}
	var method string
	if err := json.Unmarshal(frame.Res[1], &method); err != nil {
		return 0, "", nil, fmt.Errorf("res method: %w", err)
	}
	return id, method, frame.Res[2], nil
}

// readFrame synchronously reads and parses one frame (handshake only).
func readFrame(conn *websocket.Conn) (string, json.RawMessage, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, fmt.Errorf("%w: read: %v", domain.ErrNotConnected, err)
	}
	_, method, result, err := parseFrame(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: parse: %v", domain.ErrRemoteRPC, err)
	}
	return method, result, nil
}

func errorMessage(result json.RawMessage) string {
	var withField struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(result, &withField) == nil && withField.Error != "" {
		return withField.Error
	}
	return string(result)
}

// call performs one signed RPC round trip bounded by the client timeout.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	frame, err := c.buildFrame(method, params)
	if err != nil {
		return nil, err
	}
	id := frame.frameID()

	ch := make(chan rpcResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRPCTimeout, method)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) writeFrame(frame *rpcFrame) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := conn.WriteJSON(frame); err != nil {
		// Drop the socket so the next RPC reconnects.
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		return fmt.Errorf("%w: write: %v", domain.ErrNotConnected, err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// appDefinition describes a two-party session between a user and the MM.
type appDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []int64  `json:"weights"`
	Quorum       int64    `json:"quorum"`
	Challenge    int64    `json:"challenge"`
	Nonce        int64    `json:"nonce"`
}

// CreateAppSession opens a settlement session between counterparty and the
// market maker, funded per allocations, carrying the V1 intent blob.
func (c *Client) CreateAppSession(ctx context.Context, counterparty string, allocations []Allocation, sessionData []byte) (*AppSession, error) {
	params := map[string]any{
		"definition": appDefinition{
			Protocol:     "NitroRPC/0.2",
			Participants: []string{counterparty, c.Address()},
			Weights:      []int64{1, 0},
			Quorum:       1,
			Challenge:    0,
			Nonce:        time.Now().UnixMilli(),
		},
		"allocations":  allocations,
		"session_data": string(sessionData),
	}
	result, err := c.call(ctx, "create_app_session", params)
	if err != nil {
		return nil, err
	}
	var session AppSession
	if err := json.Unmarshal(result, &session); err != nil {
		return nil, fmt.Errorf("clearnode.CreateAppSession decode: %w", err)
	}
	return &session, nil
}

// SubmitAppState pushes a new allocation split and session-data blob at the
// given version. The broker rejects any version that does not exceed the
// last accepted one.
func (c *Client) SubmitAppState(ctx context.Context, sessionID, intent string, version int64, allocations []Allocation, sessionData []byte) (*AppSession, error) {
	params := map[string]any{
		"app_session_id": sessionID,
		"intent":         intent,
		"version":        version,
		"allocations":    allocations,
		"session_data":   string(sessionData),
	}
	result, err := c.call(ctx, "submit_app_state", params)
	if err != nil {
		return nil, err
	}
	var session AppSession
	if err := json.Unmarshal(result, &session); err != nil {
		return nil, fmt.Errorf("clearnode.SubmitAppState decode: %w", err)
	}
	return &session, nil
}

// CloseAppSession finalizes a session with its terminal allocations.
func (c *Client) CloseAppSession(ctx context.Context, sessionID string, allocations []Allocation, sessionData []byte) error {
	params := map[string]any{
		"app_session_id": sessionID,
		"allocations":    allocations,
		"session_data":   string(sessionData),
	}
	_, err := c.call(ctx, "close_app_session", params)
	return err
}

// Transfer moves dollars from the market-maker ledger balance to the
// destination address.
func (c *Client) Transfer(ctx context.Context, destination string, amount decimal.Decimal) error {
	params := map[string]any{
		"destination": destination,
		"allocations": []map[string]string{
			{"asset": c.asset, "amount": domain.MicroUnitString(amount)},
		},
	}
	_, err := c.call(ctx, "transfer", params)
	return err
}

// GetBalance fetches the market maker's ledger balance for the configured
// asset, converted from micro-units to decimal dollars.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	params := map[string]any{"account_id": c.Address()}
	result, err := c.call(ctx, "get_ledger_balances", params)
	if err != nil {
		return decimal.Zero, err
	}
	var balances []struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(result, &balances); err != nil {
		return decimal.Zero, fmt.Errorf("clearnode.GetBalance decode: %w", err)
	}
	for _, b := range balances {
		if b.Asset == c.asset {
			value, err := domain.ParseMicroUnits(b.Amount)
			if err != nil {
				return decimal.Zero, fmt.Errorf("clearnode.GetBalance: %w", err)
			}
			return value, nil
		}
	}
	return decimal.Zero, nil
}

// GetAppSessions lists sessions, optionally filtered by participant and
// status.
func (c *Client) GetAppSessions(ctx context.Context, participant, status string) ([]AppSession, error) {
	params := map[string]any{}
	if participant != "" {
		params["participant"] = participant
	}
	if status != "" {
		params["status"] = status
	}
	result, err := c.call(ctx, "get_app_sessions", params)
	if err != nil {
		return nil, err
	}
	var sessions []AppSession
	if err := json.Unmarshal(result, &sessions); err != nil {
		return nil, fmt.Errorf("clearnode.GetAppSessions decode: %w", err)
	}
	return sessions, nil
}

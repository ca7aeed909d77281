// Package ws implements the WebSocket fan-out hub and the message envelope
// pushed to connected clients. The protocol is server-push only: clients
// never send application-level frames, and every frame is a Message envelope
// discriminated by its type field.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgStateSync             MsgType = "STATE_SYNC"
	MsgOddsUpdate            MsgType = "ODDS_UPDATE"
	MsgMarketStatus          MsgType = "MARKET_STATUS"
	MsgGameState             MsgType = "GAME_STATE"
	MsgBetResult             MsgType = "BET_RESULT"
	MsgPositionAdded         MsgType = "POSITION_ADDED"
	MsgConnectionCount       MsgType = "CONNECTION_COUNT"
	MsgSessionSettled        MsgType = "SESSION_SETTLED"
	MsgSessionVersionUpdated MsgType = "SESSION_VERSION_UPDATED"
	MsgConfigUpdated         MsgType = "CONFIG_UPDATED"
	MsgGameCreated           MsgType = "GAME_CREATED"
	MsgLPDeposit             MsgType = "LP_DEPOSIT"
	MsgLPWithdrawal          MsgType = "LP_WITHDRAWAL"
	MsgPoolUpdate            MsgType = "POOL_UPDATE"
	MsgVolumeUpdate          MsgType = "VOLUME_UPDATE"
	MsgOrderPlaced           MsgType = "ORDER_PLACED"
	MsgOrderFilled           MsgType = "ORDER_FILLED"
	MsgOrderbookUpdate       MsgType = "ORDERBOOK_UPDATE"
	MsgOrderCancelled        MsgType = "ORDER_CANCELLED"
	MsgP2PBetResult          MsgType = "P2P_BET_RESULT"
)

// Message is the envelope every frame shares.
type Message struct {
	Type MsgType   `json:"type"`
	Data any       `json:"data,omitempty"`
	TS   time.Time `json:"ts"`
}

// NewMessage stamps an envelope with the current time.
func NewMessage(t MsgType, data any) Message {
	return Message{Type: t, Data: data, TS: time.Now().UTC()}
}

// ──────────────────────────────────────────────────────────────────────────────
// Payloads
// ──────────────────────────────────────────────────────────────────────────────

// StateSyncData is pushed once per connection, immediately after the upgrade.
// Positions and Orders are scoped to the connection's address and empty for
// anonymous connections.
type StateSyncData struct {
	Market          *domain.MarketSummary `json:"market"`
	GameActive      bool                  `json:"gameActive"`
	Games           []*domain.Game        `json:"games"`
	ConnectionCount int                   `json:"connectionCount"`
	Positions       []*domain.Position    `json:"positions"`
	Orders          []*domain.Order       `json:"orders"`
}

// OddsUpdateData carries the post-trade LMSR price vector.
type OddsUpdateData struct {
	MarketID uuid.UUID `json:"marketId"`
	Outcomes []string  `json:"outcomes"`
	Prices   []float64 `json:"prices"`
	B        float64   `json:"b"`
}

// MarketStatusData announces a lifecycle transition.
type MarketStatusData struct {
	Market *domain.MarketSummary `json:"market"`
}

// GameStateData mirrors the admin kill-switch.
type GameStateData struct {
	Active bool `json:"active"`
}

// GameCreatedData announces a new game.
type GameCreatedData struct {
	Game *domain.Game `json:"game"`
}

// BetResultData is sent to one address when its LMSR position settles.
type BetResultData struct {
	MarketID     uuid.UUID        `json:"marketId"`
	AppSessionID string           `json:"appSessionId"`
	Result       domain.BetResult `json:"result"`
	Outcome      string           `json:"outcome"`
	Payout       decimal.Decimal  `json:"payout"`
	Profit       decimal.Decimal  `json:"profit"`
	Fee          decimal.Decimal  `json:"fee"`
}

// P2PBetResultData is sent to one address when its order settles or expires.
type P2PBetResultData struct {
	MarketID     uuid.UUID        `json:"marketId"`
	OrderID      uuid.UUID        `json:"orderId"`
	AppSessionID string           `json:"appSessionId"`
	Result       domain.BetResult `json:"result"`
	Outcome      string           `json:"outcome"`
	Payout       decimal.Decimal  `json:"payout"`
	Fee          decimal.Decimal  `json:"fee"`
}

// PositionAddedData announces an accepted bet.
type PositionAddedData struct {
	Position *domain.Position `json:"position"`
}

// ConnectionCountData tracks hub occupancy.
type ConnectionCountData struct {
	Count int `json:"count"`
}

// SessionSettledData marks a settlement session closed.
type SessionSettledData struct {
	AppSessionID string `json:"appSessionId"`
}

// SessionVersionUpdatedData mirrors a successful submitAppState.
type SessionVersionUpdatedData struct {
	AppSessionID string `json:"appSessionId"`
	Version      int64  `json:"version"`
}

// LPEventData reports a deposit or withdrawal.
type LPEventData struct {
	Address    string          `json:"address"`
	Amount     decimal.Decimal `json:"amount"`
	Shares     decimal.Decimal `json:"shares"`
	SharePrice decimal.Decimal `json:"sharePrice"`
}

// PoolUpdateData is the post-change pool snapshot.
type PoolUpdateData struct {
	PoolValue   decimal.Decimal `json:"poolValue"`
	TotalShares decimal.Decimal `json:"totalShares"`
	SharePrice  decimal.Decimal `json:"sharePrice"`
}

// VolumeUpdateData carries the accumulated market volume.
type VolumeUpdateData struct {
	MarketID uuid.UUID       `json:"marketId"`
	Volume   decimal.Decimal `json:"volume"`
}

// OrderPlacedData announces a new resting or filled order.
type OrderPlacedData struct {
	Order *domain.Order `json:"order"`
}

// OrderFilledData is sent to each side of a match.
type OrderFilledData struct {
	OrderID uuid.UUID    `json:"orderId"`
	Fill    *domain.Fill `json:"fill"`
	Status  string       `json:"status"`
}

// OrderCancelledData announces a cancellation.
type OrderCancelledData struct {
	Order *domain.Order `json:"order"`
}

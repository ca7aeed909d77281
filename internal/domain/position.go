package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// SessionStatus tracks where a position's settlement session is in its life.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"     // funds locked, market live
	SessionSettling SessionStatus = "settling" // resolution in progress
	SessionSettled  SessionStatus = "settled"  // final allocations applied
)

// PositionMode distinguishes house (LMSR) positions from peer-to-peer fills.
type PositionMode string

const (
	ModeLMSR PositionMode = "lmsr"
	ModeP2P  PositionMode = "p2p"
)

// BetResult labels the outcome of a settled position.
type BetResult string

const (
	ResultWin     BetResult = "WIN"
	ResultLoss    BetResult = "LOSS"
	ResultExpired BetResult = "EXPIRED"
)

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is one executed bet (LMSR) or the filled part of a P2P order,
// held by a single address against a single market. The app-session id binds
// it to the settlement-service state channel that custodies its stake; the
// hub mirrors that session's version and data blob.
type Position struct {
	ID                uuid.UUID       `json:"id"                db:"id"`
	Address           string          `json:"address"           db:"address"`
	MarketID          uuid.UUID       `json:"marketId"          db:"market_id"`
	OutcomeIndex      int             `json:"outcomeIndex"      db:"outcome_index"`
	Outcome           string          `json:"outcome"           db:"outcome"`
	Shares            decimal.Decimal `json:"shares"            db:"shares"`
	CostPaid          decimal.Decimal `json:"costPaid"          db:"cost_paid"`
	FeePaid           decimal.Decimal `json:"feePaid"           db:"fee_paid"`
	Mode              PositionMode    `json:"mode"              db:"mode"`
	AppSessionID      string          `json:"appSessionId"      db:"app_session_id"`
	AppSessionVersion int64           `json:"appSessionVersion" db:"app_session_version"`
	SessionStatus     SessionStatus   `json:"sessionStatus"     db:"session_status"`
	SessionData       []byte          `json:"-"                 db:"session_data"`
	CreatedAt         time.Time       `json:"createdAt"         db:"created_at"`
}

// IsOpen returns true while the position's session has not been settled.
func (p *Position) IsOpen() bool {
	return p.SessionStatus == SessionOpen
}

// Payout returns the gross LMSR payout at $1 per winning share; a losing
// position pays zero.
func (p *Position) Payout(won bool) decimal.Decimal {
	if !won {
		return decimal.Zero
	}
	return p.Shares
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolution read models
// ──────────────────────────────────────────────────────────────────────────────

// WinnerOutcome is one winning position's settlement summary.
type WinnerOutcome struct {
	Address      string          `json:"address"`
	AppSessionID string          `json:"appSessionId"`
	Payout       decimal.Decimal `json:"payout"`
}

// LoserOutcome is one losing position's settlement summary.
type LoserOutcome struct {
	Address      string          `json:"address"`
	AppSessionID string          `json:"appSessionId"`
	Loss         decimal.Decimal `json:"loss"`
}

// ResolutionResult aggregates the per-position outcomes of a resolved market.
type ResolutionResult struct {
	MarketID    uuid.UUID       `json:"marketId"`
	Outcome     string          `json:"outcome"`
	Winners     []WinnerOutcome `json:"winners"`
	Losers      []LoserOutcome  `json:"losers"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
}

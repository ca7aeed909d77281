// Package domain defines the core business entities and types for the
// prediction-market hub.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/lmsr"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketPending  MarketStatus = "PENDING"  // created, not yet open for trading
	MarketOpen     MarketStatus = "OPEN"     // accepting bets and orders
	MarketClosed   MarketStatus = "CLOSED"   // trading window over, awaiting outcome
	MarketResolved MarketStatus = "RESOLVED" // outcome recorded, settlement done
)

// marketTransitions is the only legal lifecycle chain.
var marketTransitions = map[MarketStatus]MarketStatus{
	MarketPending: MarketOpen,
	MarketOpen:    MarketClosed,
	MarketClosed:  MarketResolved,
}

// CanTransitionTo reports whether the status may move directly to next.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	return marketTransitions[s] == next
}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is one tradable question under a game/category pair. Its quantity
// vector is indexed identically to the category's outcome list and is the
// sole input (with B) to LMSR pricing.
type Market struct {
	ID         uuid.UUID       `json:"id"         db:"id"`
	GameID     uuid.UUID       `json:"gameId"     db:"game_id"`
	CategoryID string          `json:"categoryId" db:"category_id"`
	Status     MarketStatus    `json:"status"     db:"status"`
	Result     *string         `json:"result"     db:"result"` // winning outcome label, set iff RESOLVED
	Quantities pq.Float64Array `json:"quantities" db:"quantities"`
	B          float64         `json:"b"          db:"liquidity_b"` // set once at creation
	Volume     decimal.Decimal `json:"volume"     db:"volume"`
	CreatedAt  time.Time       `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt"  db:"updated_at"`
	ResolvedAt *time.Time      `json:"resolvedAt" db:"resolved_at"`
}

// EnsureTransition validates a lifecycle move and returns
// ErrIllegalMarketState when the chain would be broken.
func (m *Market) EnsureTransition(next MarketStatus) error {
	if !m.Status.CanTransitionTo(next) {
		return ErrIllegalMarketState
	}
	return nil
}

// IsOpen returns true while the market accepts bets and orders.
func (m *Market) IsOpen() bool {
	return m.Status == MarketOpen
}

// IsResolved returns true after the market has been settled.
func (m *Market) IsResolved() bool {
	return m.Status == MarketResolved
}

// Prices returns the current LMSR price vector.
func (m *Market) Prices() []float64 {
	return lmsr.Prices(m.Quantities, m.B)
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketSummary — read model for WS broadcasts and list endpoints
// ──────────────────────────────────────────────────────────────────────────────

// MarketSummary is a derived, read-only view of a Market used for
// broadcasting and API responses. Outcome labels come from the category so
// clients can map prices by index.
type MarketSummary struct {
	ID         uuid.UUID       `json:"id"`
	GameID     uuid.UUID       `json:"gameId"`
	CategoryID string          `json:"categoryId"`
	Status     MarketStatus    `json:"status"`
	Result     *string         `json:"result"`
	Outcomes   []string        `json:"outcomes"`
	Prices     []float64       `json:"prices"`
	Volume     decimal.Decimal `json:"volume"`
	B          float64         `json:"b"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ToSummary builds a MarketSummary using the category's outcome labels.
func (m *Market) ToSummary(outcomes []string) MarketSummary {
	return MarketSummary{
		ID:         m.ID,
		GameID:     m.GameID,
		CategoryID: m.CategoryID,
		Status:     m.Status,
		Result:     m.Result,
		Outcomes:   outcomes,
		Prices:     m.Prices(),
		Volume:     m.Volume,
		B:          m.B,
		CreatedAt:  m.CreatedAt,
	}
}

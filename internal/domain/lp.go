package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// LP share accounting
// ──────────────────────────────────────────────────────────────────────────────

// LPShare is one liquidity provider's holding. Shares are claims on the
// pooled market-maker balance; the share price floats with the pool value.
type LPShare struct {
	Address        string          `json:"address"        db:"address"`
	Shares         decimal.Decimal `json:"shares"         db:"shares"`
	TotalDeposited decimal.Decimal `json:"totalDeposited" db:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdrawn" db:"total_withdrawn"`
	FirstDepositAt time.Time       `json:"firstDepositAt" db:"first_deposit_at"`
	LastActionAt   time.Time       `json:"lastActionAt"   db:"last_action_at"`
}

// LPEventType distinguishes the two ledger entry kinds.
type LPEventType string

const (
	LPDeposit    LPEventType = "DEPOSIT"
	LPWithdrawal LPEventType = "WITHDRAWAL"
)

// LPEvent is an append-only ledger row recording one deposit or withdrawal
// together with the pool value before and after it took effect.
type LPEvent struct {
	ID              uuid.UUID       `json:"id"              db:"id"`
	Address         string          `json:"address"         db:"address"`
	Type            LPEventType     `json:"type"            db:"type"`
	Amount          decimal.Decimal `json:"amount"          db:"amount"`
	Shares          decimal.Decimal `json:"shares"          db:"shares"`
	SharePrice      decimal.Decimal `json:"sharePrice"      db:"share_price"`
	PoolValueBefore decimal.Decimal `json:"poolValueBefore" db:"pool_value_before"`
	PoolValueAfter  decimal.Decimal `json:"poolValueAfter"  db:"pool_value_after"`
	CreatedAt       time.Time       `json:"createdAt"       db:"created_at"`
}

// PoolStats is the live snapshot served by the LP stats endpoint.
type PoolStats struct {
	PoolValue   decimal.Decimal `json:"poolValue"`
	TotalShares decimal.Decimal `json:"totalShares"`
	SharePrice  decimal.Decimal `json:"sharePrice"`
	LPCount     int             `json:"lpCount"`
	CanWithdraw bool            `json:"canWithdraw"`
}

// SharePrice values shares against the pool: 1 while the pool is empty or
// unpriced, pool/shares otherwise.
func SharePrice(poolValue, totalShares decimal.Decimal) decimal.Decimal {
	if totalShares.IsZero() || poolValue.IsZero() {
		return decimal.NewFromInt(1)
	}
	return poolValue.Div(totalShares)
}

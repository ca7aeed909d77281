package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement is the append-only archive row written when a resolved market's
// positions are cleared from the live table. It is the hub's audit trail of
// who won what; the settlement service holds the authoritative balances.
type Settlement struct {
	ID           uuid.UUID       `json:"id"           db:"id"`
	MarketID     uuid.UUID       `json:"marketId"     db:"market_id"`
	Address      string          `json:"address"      db:"address"`
	Mode         PositionMode    `json:"mode"         db:"mode"`
	Outcome      string          `json:"outcome"      db:"outcome"`
	Result       BetResult       `json:"result"       db:"result"`
	Shares       decimal.Decimal `json:"shares"       db:"shares"`
	CostPaid     decimal.Decimal `json:"costPaid"     db:"cost_paid"`
	Payout       decimal.Decimal `json:"payout"       db:"payout"`
	Profit       decimal.Decimal `json:"profit"       db:"profit"`
	AppSessionID string          `json:"appSessionId" db:"app_session_id"`
	CreatedAt    time.Time       `json:"createdAt"    db:"created_at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// OrderStatus represents the state of a P2P limit order. Statuses only move
// forward: OPEN → PARTIALLY_FILLED → FILLED, or out to CANCELLED / EXPIRED,
// and finally SETTLED once resolution pays the filled part out.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderSettled         OrderStatus = "SETTLED"
)

// ──────────────────────────────────────────────────────────────────────────────
// Order
// ──────────────────────────────────────────────────────────────────────────────

// Order is a peer-to-peer limit order: the user will pay at most MCPS dollars
// per share on their chosen outcome, up to Amount in total. MaxShares is
// fixed at creation (Amount ÷ MCPS); the filled/unfilled ledgers always sum
// back to Amount and MaxShares respectively.
type Order struct {
	ID                uuid.UUID       `json:"id"                db:"id"`
	MarketID          uuid.UUID       `json:"marketId"          db:"market_id"`
	GameID            uuid.UUID       `json:"gameId"            db:"game_id"`
	Address           string          `json:"address"           db:"address"`
	OutcomeIndex      int             `json:"outcomeIndex"      db:"outcome_index"`
	Outcome           string          `json:"outcome"           db:"outcome"`
	MCPS              decimal.Decimal `json:"mcps"              db:"mcps"`
	Amount            decimal.Decimal `json:"amount"            db:"amount"`
	FilledAmount      decimal.Decimal `json:"filledAmount"      db:"filled_amount"`
	UnfilledAmount    decimal.Decimal `json:"unfilledAmount"    db:"unfilled_amount"`
	MaxShares         decimal.Decimal `json:"maxShares"         db:"max_shares"`
	FilledShares      decimal.Decimal `json:"filledShares"      db:"filled_shares"`
	UnfilledShares    decimal.Decimal `json:"unfilledShares"    db:"unfilled_shares"`
	Status            OrderStatus     `json:"status"            db:"status"`
	AppSessionID      string          `json:"appSessionId"      db:"app_session_id"`
	AppSessionVersion int64           `json:"appSessionVersion" db:"app_session_version"`
	CreatedAt         time.Time       `json:"createdAt"         db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt"         db:"updated_at"`
}

// NewOrder builds a resting-ready order with its share ledger derived from
// amount ÷ mcps.
func NewOrder(marketID, gameID uuid.UUID, address string, outcomeIndex int, outcome string,
	mcps, amount decimal.Decimal, appSessionID string, appSessionVersion int64) *Order {

	now := time.Now().UTC()
	maxShares := amount.Div(mcps)
	return &Order{
		ID:                uuid.New(),
		MarketID:          marketID,
		GameID:            gameID,
		Address:           address,
		OutcomeIndex:      outcomeIndex,
		Outcome:           outcome,
		MCPS:              mcps,
		Amount:            amount,
		FilledAmount:      decimal.Zero,
		UnfilledAmount:    amount,
		MaxShares:         maxShares,
		FilledShares:      decimal.Zero,
		UnfilledShares:    maxShares,
		Status:            OrderOpen,
		AppSessionID:      appSessionID,
		AppSessionVersion: appSessionVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ApplyFill books matched shares against the order at its own MCPS. The
// unfilled ledgers are recomputed from the totals so that
// filled + unfilled = amount (and = maxShares) holds exactly.
func (o *Order) ApplyFill(shares decimal.Decimal) {
	o.FilledShares = o.FilledShares.Add(shares)
	o.UnfilledShares = o.MaxShares.Sub(o.FilledShares)
	o.FilledAmount = o.FilledAmount.Add(shares.Mul(o.MCPS))
	o.UnfilledAmount = o.Amount.Sub(o.FilledAmount)

	if o.UnfilledShares.IsZero() {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
}

// CanMatch reports whether this resting order can cross an incoming order on
// the opposite outcome at the given price: the two limit prices must cover
// the $1 unit payout between them.
func (o *Order) CanMatch(incomingMCPS decimal.Decimal) bool {
	return o.MCPS.Add(incomingMCPS).GreaterThanOrEqual(decimal.NewFromInt(1))
}

// IsResting returns true while the order still has unfilled size on the book.
func (o *Order) IsResting() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// IsCancellable mirrors IsResting; terminal orders cannot be cancelled.
func (o *Order) IsCancellable() bool {
	return o.IsResting()
}

// ──────────────────────────────────────────────────────────────────────────────
// Fill
// ──────────────────────────────────────────────────────────────────────────────

// Fill is the immutable record of one match. Each side pays its own limit
// price, so both sides' prices and costs are kept.
type Fill struct {
	ID           uuid.UUID       `json:"id"           db:"id"`
	MarketID     uuid.UUID       `json:"marketId"     db:"market_id"`
	TakerOrderID uuid.UUID       `json:"takerOrderId" db:"taker_order_id"`
	MakerOrderID uuid.UUID       `json:"makerOrderId" db:"maker_order_id"`
	Shares       decimal.Decimal `json:"shares"       db:"shares"`
	TakerPrice   decimal.Decimal `json:"takerPrice"   db:"taker_price"`
	MakerPrice   decimal.Decimal `json:"makerPrice"   db:"maker_price"`
	TakerCost    decimal.Decimal `json:"takerCost"    db:"taker_cost"`
	MakerCost    decimal.Decimal `json:"makerCost"    db:"maker_cost"`
	CreatedAt    time.Time       `json:"createdAt"    db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Depth
// ──────────────────────────────────────────────────────────────────────────────

// DepthLevel aggregates resting size at one price point of one outcome.
type DepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Shares     decimal.Decimal `json:"shares"`
	OrderCount int             `json:"orderCount"`
}

// DepthSnapshot is the full book view for one market, levels keyed by
// outcome label and sorted descending by price.
type DepthSnapshot struct {
	MarketID  uuid.UUID               `json:"marketId"`
	Outcomes  map[string][]DepthLevel `json:"outcomes"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

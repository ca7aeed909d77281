package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Session-data blobs
// ──────────────────────────────────────────────────────────────────────────────
//
// Every settlement session carries an opaque JSON blob the hub versions
// through the bet's life: V1 is the client's intent at session creation, V2
// is written when the hub accepts the bet or order, V3 when it resolves. The
// settlement service never interprets the blob; the hub and its clients do,
// keyed on the top-level "v" discriminator and the "mode" tag.

// SessionDataVersion values for the "v" discriminator.
const (
	SessionDataIntent     = 1
	SessionDataAcceptance = 2
	SessionDataResolution = 3
)

// IntentData (v=1) is authored by the client when it opens the settlement
// session, before the hub has seen the bet.
type IntentData struct {
	V        int             `json:"v"`
	Mode     PositionMode    `json:"mode"`
	Address  string          `json:"address"`
	MarketID uuid.UUID       `json:"marketId"`
	Outcome  string          `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
	TS       time.Time       `json:"ts"`
}

// AcceptanceData (v=2) is written by the hub the moment a bet or order is
// accepted, fixing the terms the user traded at.
type AcceptanceData struct {
	V        int             `json:"v"`
	Mode     PositionMode    `json:"mode"`
	Address  string          `json:"address"`
	MarketID uuid.UUID       `json:"marketId"`
	Outcome  string          `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
	Prices   []float64       `json:"prices,omitempty"` // LMSR post-trade vector
	MCPS     decimal.Decimal `json:"mcps"`             // P2P limit price, zero for LMSR
	Fee      decimal.Decimal `json:"fee"`
	TS       time.Time       `json:"ts"`
}

// ResolutionData (v=3) is written during settlement with the final result.
type ResolutionData struct {
	V       int             `json:"v"`
	Mode    PositionMode    `json:"mode"`
	Result  BetResult       `json:"result"`
	Outcome string          `json:"outcome"` // winning outcome label
	Payout  decimal.Decimal `json:"payout"`
	Profit  decimal.Decimal `json:"profit"`
	Fee     decimal.Decimal `json:"fee"`
	TS      time.Time       `json:"ts"`
}

// EncodeSessionData marshals any of the versioned blobs.
func EncodeSessionData(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// The blob structs contain only marshal-safe fields.
		panic(fmt.Sprintf("domain.EncodeSessionData: %v", err))
	}
	return b
}

// SessionDataVersion peeks at the "v" discriminator of a raw blob; 0 when
// the blob is absent or unparseable.
func SessionDataVersion(raw []byte) int {
	var probe struct {
		V int `json:"v"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &probe) != nil {
		return 0
	}
	return probe.V
}

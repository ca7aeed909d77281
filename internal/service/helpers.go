// Package service holds the business logic between the HTTP/WS surfaces and
// the repositories: market lifecycle, LMSR betting, P2P matching, LP share
// accounting, resolution, games, and admin operations.
package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// Injected interfaces
// ──────────────────────────────────────────────────────────────────────────────

// Settlement is the slice of the clearnode client the services consume.
// *clearnode.Client implements it; tests substitute a recorder.
type Settlement interface {
	SubmitAppState(ctx context.Context, sessionID, intent string, version int64, allocations []clearnode.Allocation, sessionData []byte) (*clearnode.AppSession, error)
	CloseAppSession(ctx context.Context, sessionID string, allocations []clearnode.Allocation, sessionData []byte) error
	Transfer(ctx context.Context, destination string, amount decimal.Decimal) error
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	Address() string
	Asset() string
	IsConnected() bool
}

// Broadcaster is the slice of the WS hub the services consume.
type Broadcaster interface {
	Broadcast(t ws.MsgType, data any)
	SendTo(address string, t ws.MsgType, data any)
	ConnectionCount() int
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-market locks
// ──────────────────────────────────────────────────────────────────────────────

// MarketLocks hands out one mutex per market id so bets, order matching, and
// resolution serialize per market without blocking other markets. Entries are
// never reclaimed; the market population is bounded by the games played.
type MarketLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewMarketLocks builds the shared per-market lock set; construct one per
// process and pass it to every service that trades or resolves.
func NewMarketLocks() *MarketLocks {
	return &MarketLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *MarketLocks) get(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// ──────────────────────────────────────────────────────────────────────────────
// Money helpers
// ──────────────────────────────────────────────────────────────────────────────

// pairAllocations builds the standard two-party allocation set for a session:
// the user first, the market maker second.
func pairAllocations(st Settlement, user string, userAmount, mmAmount decimal.Decimal) []clearnode.Allocation {
	asset := st.Asset()
	return []clearnode.Allocation{
		clearnode.NewAllocation(user, asset, userAmount),
		clearnode.NewAllocation(st.Address(), asset, mmAmount),
	}
}

// feeOf computes a percent fee on a gross amount.
func feeOf(gross, percent decimal.Decimal) decimal.Decimal {
	return gross.Mul(percent).Div(decimal.NewFromInt(100))
}

// decimalZero returns a canonical zero so new rows never carry a nil
// internal value.
func decimalZero() decimal.Decimal {
	return decimal.NewFromInt(0)
}

package domain_test

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// ── Lifecycle state machine ───────────────────────────────────────────────────

func TestMarketStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.MarketStatus
		ok       bool
	}{
		{domain.MarketPending, domain.MarketOpen, true},
		{domain.MarketOpen, domain.MarketClosed, true},
		{domain.MarketClosed, domain.MarketResolved, true},

		{domain.MarketPending, domain.MarketClosed, false},
		{domain.MarketPending, domain.MarketResolved, false},
		{domain.MarketOpen, domain.MarketPending, false},
		{domain.MarketOpen, domain.MarketResolved, false},
		{domain.MarketClosed, domain.MarketOpen, false},
		{domain.MarketResolved, domain.MarketPending, false},
		{domain.MarketResolved, domain.MarketOpen, false},
		{domain.MarketResolved, domain.MarketClosed, false},
		{domain.MarketOpen, domain.MarketOpen, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestMarket_EnsureTransition(t *testing.T) {
	m := &domain.Market{Status: domain.MarketClosed}

	if err := m.EnsureTransition(domain.MarketResolved); err != nil {
		t.Errorf("CLOSED -> RESOLVED: unexpected error %v", err)
	}
	if err := m.EnsureTransition(domain.MarketOpen); err != domain.ErrIllegalMarketState {
		t.Errorf("CLOSED -> OPEN: err = %v, want ErrIllegalMarketState", err)
	}
}

// ── Pricing through the market ────────────────────────────────────────────────

func TestMarket_Prices_FreshBinary(t *testing.T) {
	m := &domain.Market{
		ID:         uuid.New(),
		Status:     domain.MarketOpen,
		Quantities: []float64{0, 0},
		B:          100,
	}
	p := m.Prices()
	if len(p) != 2 || p[0] != 0.5 || p[1] != 0.5 {
		t.Errorf("Prices() = %v, want [0.5 0.5]", p)
	}
}

func TestMarket_ToSummary(t *testing.T) {
	m := &domain.Market{
		ID:         uuid.New(),
		GameID:     uuid.New(),
		CategoryID: "pitch-outcome",
		Status:     domain.MarketOpen,
		Quantities: []float64{12, 0},
		B:          100,
		Volume:     decimal.NewFromInt(42),
	}
	s := m.ToSummary([]string{"BALL", "STRIKE"})

	if s.ID != m.ID || s.CategoryID != "pitch-outcome" {
		t.Errorf("summary identity fields wrong: %+v", s)
	}
	if len(s.Outcomes) != 2 || s.Outcomes[0] != "BALL" {
		t.Errorf("summary outcomes = %v", s.Outcomes)
	}
	if len(s.Prices) != 2 || !(s.Prices[0] > 0.5) {
		t.Errorf("summary prices = %v, want price[0] > 0.5 after buys on index 0", s.Prices)
	}
	if math.Abs(s.Prices[0]+s.Prices[1]-1) > 1e-9 {
		t.Errorf("summary prices do not sum to 1: %v", s.Prices)
	}
	if !s.Volume.Equal(decimal.NewFromInt(42)) {
		t.Errorf("summary volume = %s, want 42", s.Volume)
	}
}

// ── Category helpers ──────────────────────────────────────────────────────────

func TestCategory_OutcomeIndex(t *testing.T) {
	c := &domain.Category{ID: "pitch-outcome", Outcomes: []string{"BALL", "STRIKE"}}

	if i := c.OutcomeIndex("STRIKE"); i != 1 {
		t.Errorf("OutcomeIndex(STRIKE) = %d, want 1", i)
	}
	if i := c.OutcomeIndex("HOMERUN"); i != -1 {
		t.Errorf("OutcomeIndex(HOMERUN) = %d, want -1", i)
	}
	if !c.IsBinary() {
		t.Error("IsBinary() = false, want true")
	}

	tri := &domain.Category{Outcomes: []string{"WIN", "LOSE", "DRAW"}}
	if tri.IsBinary() {
		t.Error("three-outcome category reported binary")
	}
}

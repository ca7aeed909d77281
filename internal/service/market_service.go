package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// currentMarketTTL bounds how stale the cached current market may be. The
// frontend polls this read aggressively, so it must not hit the DB every
// time.
const currentMarketTTL = 500 * time.Millisecond

// PoolValuer is the slice of the LP service the market service needs to
// auto-scale LMSR liquidity from the pool value.
type PoolValuer interface {
	PoolValue(ctx context.Context) (decimal.Decimal, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketService
// ──────────────────────────────────────────────────────────────────────────────

// MarketService owns the market lifecycle (PENDING → OPEN → CLOSED →
// RESOLVED) and the read models built on top of it.
type MarketService struct {
	marketRepo  *repository.MarketRepository
	gameRepo    *repository.GameRepository
	runtime     *config.Runtime
	defaultB    float64
	pool        PoolValuer
	broadcaster Broadcaster

	// 500 ms current-market cache
	currentMu        sync.RWMutex
	currentMarket    *domain.Market
	currentCacheTime time.Time
}

// NewMarketService creates a MarketService. pool may be nil, in which case
// every market falls back to the configured default liquidity.
func NewMarketService(
	marketRepo *repository.MarketRepository,
	gameRepo *repository.GameRepository,
	runtime *config.Runtime,
	defaultB float64,
	pool PoolValuer,
	broadcaster Broadcaster,
) *MarketService {
	return &MarketService{
		marketRepo:  marketRepo,
		gameRepo:    gameRepo,
		runtime:     runtime,
		defaultB:    defaultB,
		pool:        pool,
		broadcaster: broadcaster,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateMarket
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarket records a new PENDING market for a game/category pair. The
// game must be ACTIVE and the pair must not already carry a live market (a
// partial unique index enforces this, surfaced as ErrMarketExists).
func (s *MarketService) CreateMarket(ctx context.Context, gameID uuid.UUID, categoryID string, bOverride *float64) (*domain.Market, error) {
	game, err := s.gameRepo.GetGameByID(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: %w", err)
	}
	if !game.IsActive() {
		return nil, fmt.Errorf("market_service.CreateMarket: %w", domain.ErrGameNotActive)
	}
	category, err := s.gameRepo.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: %w", err)
	}

	b := s.liquidityFor(ctx, bOverride)
	now := time.Now().UTC()
	m := &domain.Market{
		ID:         uuid.New(),
		GameID:     gameID,
		CategoryID: categoryID,
		Status:     domain.MarketPending,
		Quantities: make(pq.Float64Array, len(category.Outcomes)),
		B:          b,
		Volume:     decimalZero(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.marketRepo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: db: %w", err)
	}

	s.invalidateCurrentCache()
	slog.Info("market created",
		"market_id", m.ID,
		"game_id", gameID,
		"category_id", categoryID,
		"b", b,
	)
	s.broadcastStatus(m, category.Outcomes)
	return m, nil
}

// liquidityFor picks the LMSR b parameter: explicit override first, then
// pool-value auto-scale, then the configured default.
func (s *MarketService) liquidityFor(ctx context.Context, override *float64) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	if s.pool == nil {
		return s.defaultB
	}
	poolValue, err := s.pool.PoolValue(ctx)
	if err != nil {
		slog.Warn("pool value unavailable, using default liquidity",
			"error", err, "default_b", s.defaultB)
		return s.defaultB
	}
	b := poolValue.InexactFloat64() * s.runtime.Sensitivity()
	if b <= 0 {
		return s.defaultB
	}
	return b
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle transitions
// ──────────────────────────────────────────────────────────────────────────────

// OpenMarket moves a market from PENDING to OPEN. Trading requires the
// global kill-switch to be on.
func (s *MarketService) OpenMarket(ctx context.Context, id uuid.UUID) error {
	state, err := s.gameRepo.GetGameState(ctx)
	if err != nil {
		return fmt.Errorf("market_service.OpenMarket: %w", err)
	}
	if !state.Active {
		return fmt.Errorf("market_service.OpenMarket: %w", domain.ErrGameNotActive)
	}
	if err := s.marketRepo.UpdateStatus(ctx, id, domain.MarketPending, domain.MarketOpen); err != nil {
		return fmt.Errorf("market_service.OpenMarket: %w", err)
	}
	s.invalidateCurrentCache()
	s.broadcastStatusByID(ctx, id)
	return nil
}

// CloseMarket moves a market from OPEN to CLOSED. No further bets or orders
// are accepted after this point.
func (s *MarketService) CloseMarket(ctx context.Context, id uuid.UUID) error {
	if err := s.marketRepo.UpdateStatus(ctx, id, domain.MarketOpen, domain.MarketClosed); err != nil {
		return fmt.Errorf("market_service.CloseMarket: %w", err)
	}
	s.invalidateCurrentCache()
	s.broadcastStatusByID(ctx, id)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket returns a market by ID.
func (s *MarketService) GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	m, err := s.marketRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service.GetMarket: %w", err)
	}
	return m, nil
}

// GetCurrentMarket returns the live (non-RESOLVED) market for a
// game/category pair when both are given, otherwise the most recent live
// market overall. The global lookup is cached for 500 ms to reduce DB
// pressure during high-frequency polling.
func (s *MarketService) GetCurrentMarket(ctx context.Context, gameID *uuid.UUID, categoryID *string) (*domain.Market, error) {
	if gameID != nil && categoryID != nil {
		m, err := s.marketRepo.GetCurrentForPair(ctx, *gameID, *categoryID)
		if err != nil {
			return nil, fmt.Errorf("market_service.GetCurrentMarket: %w", err)
		}
		return m, nil
	}

	s.currentMu.RLock()
	if s.currentMarket != nil && time.Since(s.currentCacheTime) < currentMarketTTL {
		m := s.currentMarket
		s.currentMu.RUnlock()
		return m, nil
	}
	s.currentMu.RUnlock()

	m, err := s.marketRepo.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service.GetCurrentMarket: %w", err)
	}

	s.currentMu.Lock()
	s.currentMarket = m
	s.currentCacheTime = time.Now()
	s.currentMu.Unlock()

	return m, nil
}

// ListMarkets returns a paginated list of markets.
// status="" returns all statuses. Returns (markets, total, error).
func (s *MarketService) ListMarkets(ctx context.Context, limit, offset int, status string) ([]*domain.Market, int, error) {
	markets, total, err := s.marketRepo.List(ctx, limit, offset, status)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service.ListMarkets: %w", err)
	}
	return markets, total, nil
}

// Summary resolves the category's outcome labels and builds the broadcast /
// API view of a market.
func (s *MarketService) Summary(ctx context.Context, m *domain.Market) (*domain.MarketSummary, error) {
	category, err := s.gameRepo.GetCategory(ctx, m.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("market_service.Summary: %w", err)
	}
	summary := m.ToSummary(category.Outcomes)
	return &summary, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *MarketService) invalidateCurrentCache() {
	s.currentMu.Lock()
	s.currentMarket = nil
	s.currentCacheTime = time.Time{}
	s.currentMu.Unlock()
}

func (s *MarketService) broadcastStatusByID(ctx context.Context, id uuid.UUID) {
	m, err := s.marketRepo.GetByID(ctx, id)
	if err != nil {
		slog.Warn("market status broadcast skipped", "market_id", id, "error", err)
		return
	}
	category, err := s.gameRepo.GetCategory(ctx, m.CategoryID)
	if err != nil {
		slog.Warn("market status broadcast skipped", "market_id", id, "error", err)
		return
	}
	s.broadcastStatus(m, category.Outcomes)
}

func (s *MarketService) broadcastStatus(m *domain.Market, outcomes []string) {
	summary := m.ToSummary(outcomes)
	s.broadcaster.Broadcast(ws.MsgMarketStatus, ws.MarketStatusData{Market: &summary})
}

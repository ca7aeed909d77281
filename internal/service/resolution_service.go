package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// PoolRefresher re-reads the broker balance and fans out a POOL_UPDATE.
// Implemented by LPService.
type PoolRefresher interface {
	BroadcastPoolUpdate(ctx context.Context)
}

// ResolutionService settles a CLOSED market once the oracle reports the
// winning outcome. Every LMSR position and every P2P order gets its final
// v=3 state pushed to the broker and its session closed with the definitive
// allocation; winners additionally receive their profit as a direct
// transfer. The live rows are then archived, the market moves to RESOLVED,
// and clients get the refreshed market and pool.
//
// Broker calls are attempted exactly once each. A failed call is logged and
// settlement moves on, so the hub's own state always advances; a session the
// broker never confirmed closing is reconciled out of band.
type ResolutionService struct {
	marketRepo   *repository.MarketRepository
	positionRepo *repository.PositionRepository
	orderRepo    *repository.OrderRepository
	gameRepo     *repository.GameRepository
	runtime      *config.Runtime
	settlement   Settlement
	broadcaster  Broadcaster
	pool         PoolRefresher

	// resolving guards each market against a second concurrent resolution.
	// Separate from the trading locks: by the time resolution starts the
	// market is CLOSED, so it never contends with bet placement.
	resolving *MarketLocks
}

// NewResolutionService builds a ResolutionService.
func NewResolutionService(
	marketRepo *repository.MarketRepository,
	positionRepo *repository.PositionRepository,
	orderRepo *repository.OrderRepository,
	gameRepo *repository.GameRepository,
	runtime *config.Runtime,
	settlement Settlement,
	broadcaster Broadcaster,
	pool PoolRefresher,
) *ResolutionService {
	return &ResolutionService{
		marketRepo:   marketRepo,
		positionRepo: positionRepo,
		orderRepo:    orderRepo,
		gameRepo:     gameRepo,
		runtime:      runtime,
		settlement:   settlement,
		broadcaster:  broadcaster,
		pool:         pool,
		resolving:    NewMarketLocks(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolveMarket — full settlement pipeline for one market
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket settles every open position and order on a CLOSED market
// against the winning outcome, archives them, and marks the market RESOLVED.
// Only one resolution may run per market at a time; a second call while one
// is in flight returns ErrResolutionInProgress.
func (s *ResolutionService) ResolveMarket(ctx context.Context, marketID uuid.UUID, winningOutcome string) (*domain.ResolutionResult, error) {
	mu := s.resolving.get(marketID)
	if !mu.TryLock() {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", domain.ErrResolutionInProgress)
	}
	defer mu.Unlock()

	// ── 1. Load the market and validate the outcome ──
	market, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	if err := market.EnsureTransition(domain.MarketResolved); err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	category, err := s.gameRepo.GetCategory(ctx, market.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	winIdx := category.OutcomeIndex(winningOutcome)
	if winIdx < 0 {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: outcome %q: %w", winningOutcome, domain.ErrInvalidOutcome)
	}

	feePercent := s.runtime.FeePercent()
	result := &domain.ResolutionResult{
		MarketID:    marketID,
		Outcome:     winningOutcome,
		Winners:     []domain.WinnerOutcome{},
		Losers:      []domain.LoserOutcome{},
		TotalPayout: decimalZero(),
	}
	var archive []*domain.Settlement

	// ── 2. LMSR positions, losers before winners ──
	// Loser sessions release their stake to the maker before winner sessions
	// draw payouts from it, so the broker's running balance never dips.
	positions, err := s.positionRepo.GetOpenByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	for _, p := range positions {
		if p.OutcomeIndex == winIdx {
			continue
		}
		archive = append(archive, s.settlePosition(ctx, p, false, winningOutcome, feePercent))
		result.Losers = append(result.Losers, domain.LoserOutcome{
			Address:      p.Address,
			AppSessionID: p.AppSessionID,
			Loss:         p.CostPaid,
		})
	}
	for _, p := range positions {
		if p.OutcomeIndex != winIdx {
			continue
		}
		archive = append(archive, s.settlePosition(ctx, p, true, winningOutcome, feePercent))
		result.Winners = append(result.Winners, domain.WinnerOutcome{
			Address:      p.Address,
			AppSessionID: p.AppSessionID,
			Payout:       p.Payout(true),
		})
		result.TotalPayout = result.TotalPayout.Add(p.Shares)
	}

	// ── 3. P2P orders with fills, losers before winners ──
	orders, err := s.orderRepo.GetFilledForResolution(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	for _, o := range orders {
		if o.OutcomeIndex == winIdx {
			continue
		}
		archive = append(archive, s.settleOrder(ctx, o, false, winningOutcome, feePercent))
		result.Losers = append(result.Losers, domain.LoserOutcome{
			Address:      o.Address,
			AppSessionID: o.AppSessionID,
			Loss:         o.FilledAmount,
		})
	}
	for _, o := range orders {
		if o.OutcomeIndex != winIdx {
			continue
		}
		archive = append(archive, s.settleOrder(ctx, o, true, winningOutcome, feePercent))
		result.Winners = append(result.Winners, domain.WinnerOutcome{
			Address:      o.Address,
			AppSessionID: o.AppSessionID,
			Payout:       o.FilledShares,
		})
		result.TotalPayout = result.TotalPayout.Add(o.FilledShares)
	}

	// ── 4. Fully-unfilled orders: return the stake untouched ──
	expired, err := s.orderRepo.ExpireUnfilled(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	cancelled, err := s.orderRepo.GetCancelledUnfilled(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}
	for _, o := range append(expired, cancelled...) {
		archive = append(archive, s.closeUnfilledOrder(ctx, o, winningOutcome))
	}

	// ── 5. Archive the settled rows and clear the live table ──
	if err := s.positionRepo.ArchiveAndClear(ctx, marketID, archive); err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}

	// ── 6. Record the outcome ──
	if err := s.marketRepo.Resolve(ctx, marketID, winningOutcome); err != nil {
		return nil, fmt.Errorf("resolution_service.ResolveMarket: %w", err)
	}

	// ── 7. Announce the resolved market and the refreshed pool ──
	if resolved, getErr := s.marketRepo.GetByID(ctx, marketID); getErr == nil {
		summary := resolved.ToSummary(category.Outcomes)
		s.broadcaster.Broadcast(ws.MsgMarketStatus, ws.MarketStatusData{Market: &summary})
	} else {
		slog.Error("resolution: reload resolved market failed", "market_id", marketID, "error", getErr)
	}
	s.pool.BroadcastPoolUpdate(ctx)

	slog.Info("market resolved",
		"market_id", marketID,
		"outcome", winningOutcome,
		"winners", len(result.Winners),
		"losers", len(result.Losers),
		"expired_orders", len(expired)+len(cancelled),
		"total_payout", result.TotalPayout)

	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-position / per-order settlement
// ──────────────────────────────────────────────────────────────────────────────

// settlePosition runs the three-step close for one LMSR position: push the
// v=3 resolution state, close the session with the final allocation, and
// transfer the profit when there is one. Returns the archive row.
//
// Allocation for a loser: the whole stake goes to the maker. For a winner
// the stake comes back minus the fee, and the profit (gross payout minus
// cost) arrives as a separate transfer.
func (s *ResolutionService) settlePosition(ctx context.Context, p *domain.Position, won bool, winningOutcome string, feePercent decimal.Decimal) *domain.Settlement {
	if err := s.positionRepo.UpdateSessionStatus(ctx, p.AppSessionID, domain.SessionSettling); err != nil {
		slog.Warn("resolution: mark settling failed", "app_session_id", p.AppSessionID, "error", err)
	}

	gross := p.Payout(won)
	fee := decimalZero()
	betResult := domain.ResultLoss
	userAlloc := decimalZero()
	mmAlloc := p.CostPaid
	if won {
		fee = feeOf(gross, feePercent)
		betResult = domain.ResultWin
		userAlloc = p.CostPaid.Sub(fee)
		mmAlloc = fee
	}
	net := gross.Sub(fee)
	profit := gross.Sub(p.CostPaid)

	blob := domain.EncodeSessionData(domain.ResolutionData{
		V:       domain.SessionDataResolution,
		Mode:    domain.ModeLMSR,
		Result:  betResult,
		Outcome: winningOutcome,
		Payout:  net,
		Profit:  profit,
		Fee:     fee,
		TS:      time.Now().UTC(),
	})
	allocations := pairAllocations(s.settlement, p.Address, userAlloc, mmAlloc)
	s.submitAndClose(ctx, p.AppSessionID, p.AppSessionVersion, allocations, blob, s.positionRepo.UpdateAppSessionVersion)

	if won && profit.IsPositive() {
		if err := s.settlement.Transfer(ctx, p.Address, profit); err != nil {
			slog.Error("resolution: winner transfer failed",
				"address", p.Address, "amount", profit, "app_session_id", p.AppSessionID, "error", err)
		}
	}

	if err := s.positionRepo.UpdateSessionData(ctx, p.AppSessionID, blob); err != nil {
		slog.Warn("resolution: save session data failed", "app_session_id", p.AppSessionID, "error", err)
	}
	if err := s.positionRepo.UpdateSessionStatus(ctx, p.AppSessionID, domain.SessionSettled); err != nil {
		slog.Warn("resolution: mark settled failed", "app_session_id", p.AppSessionID, "error", err)
	}

	s.broadcaster.SendTo(p.Address, ws.MsgBetResult, ws.BetResultData{
		MarketID:     p.MarketID,
		AppSessionID: p.AppSessionID,
		Result:       betResult,
		Outcome:      winningOutcome,
		Payout:       net,
		Profit:       profit,
		Fee:          fee,
	})

	return &domain.Settlement{
		ID:           uuid.New(),
		MarketID:     p.MarketID,
		Address:      p.Address,
		Mode:         domain.ModeLMSR,
		Outcome:      p.Outcome,
		Result:       betResult,
		Shares:       p.Shares,
		CostPaid:     p.CostPaid,
		Payout:       net,
		Profit:       profit,
		AppSessionID: p.AppSessionID,
		CreatedAt:    time.Now().UTC(),
	}
}

// settleOrder settles the filled part of one P2P order. The unfilled remainder
// of the stake always comes back to the user through the close allocation;
// only the filled part is at risk.
func (s *ResolutionService) settleOrder(ctx context.Context, o *domain.Order, won bool, winningOutcome string, feePercent decimal.Decimal) *domain.Settlement {
	gross := decimalZero()
	fee := decimalZero()
	betResult := domain.ResultLoss
	userAlloc := o.UnfilledAmount
	mmAlloc := o.FilledAmount
	if won {
		gross = o.FilledShares
		fee = feeOf(gross, feePercent)
		betResult = domain.ResultWin
		userAlloc = o.FilledAmount.Add(o.UnfilledAmount).Sub(fee)
		mmAlloc = fee
	}
	net := gross.Sub(fee)
	profit := net.Sub(o.FilledAmount)

	blob := domain.EncodeSessionData(domain.ResolutionData{
		V:       domain.SessionDataResolution,
		Mode:    domain.ModeP2P,
		Result:  betResult,
		Outcome: winningOutcome,
		Payout:  net,
		Profit:  profit,
		Fee:     fee,
		TS:      time.Now().UTC(),
	})
	allocations := pairAllocations(s.settlement, o.Address, userAlloc, mmAlloc)
	s.submitAndClose(ctx, o.AppSessionID, o.AppSessionVersion, allocations, blob, s.orderRepo.UpdateAppSessionVersion)

	if won && profit.IsPositive() {
		if err := s.settlement.Transfer(ctx, o.Address, profit); err != nil {
			slog.Error("resolution: winner transfer failed",
				"address", o.Address, "amount", profit, "app_session_id", o.AppSessionID, "error", err)
		}
	}

	if err := s.orderRepo.SettleOrder(ctx, o.ID); err != nil {
		slog.Warn("resolution: mark order settled failed", "order_id", o.ID, "error", err)
	}

	s.broadcaster.SendTo(o.Address, ws.MsgP2PBetResult, ws.P2PBetResultData{
		MarketID:     o.MarketID,
		OrderID:      o.ID,
		AppSessionID: o.AppSessionID,
		Result:       betResult,
		Outcome:      winningOutcome,
		Payout:       net,
		Fee:          fee,
	})

	return &domain.Settlement{
		ID:           uuid.New(),
		MarketID:     o.MarketID,
		Address:      o.Address,
		Mode:         domain.ModeP2P,
		Outcome:      o.Outcome,
		Result:       betResult,
		Shares:       o.FilledShares,
		CostPaid:     o.FilledAmount,
		Payout:       net,
		Profit:       profit,
		AppSessionID: o.AppSessionID,
		CreatedAt:    time.Now().UTC(),
	}
}

// closeUnfilledOrder closes the session of an order that never traded,
// returning the full stake. No v=3 submit: the terms never changed after
// acceptance, so the close carries the final blob on its own.
func (s *ResolutionService) closeUnfilledOrder(ctx context.Context, o *domain.Order, winningOutcome string) *domain.Settlement {
	blob := domain.EncodeSessionData(domain.ResolutionData{
		V:       domain.SessionDataResolution,
		Mode:    domain.ModeP2P,
		Result:  domain.ResultExpired,
		Outcome: winningOutcome,
		Payout:  o.Amount,
		Profit:  decimalZero(),
		Fee:     decimalZero(),
		TS:      time.Now().UTC(),
	})
	allocations := pairAllocations(s.settlement, o.Address, o.Amount, decimalZero())
	if err := s.settlement.CloseAppSession(ctx, o.AppSessionID, allocations, blob); err != nil {
		slog.Error("resolution: close unfilled session failed",
			"order_id", o.ID, "app_session_id", o.AppSessionID, "error", err)
	}
	s.broadcaster.Broadcast(ws.MsgSessionSettled, ws.SessionSettledData{AppSessionID: o.AppSessionID})

	s.broadcaster.SendTo(o.Address, ws.MsgP2PBetResult, ws.P2PBetResultData{
		MarketID:     o.MarketID,
		OrderID:      o.ID,
		AppSessionID: o.AppSessionID,
		Result:       domain.ResultExpired,
		Outcome:      winningOutcome,
		Payout:       o.Amount,
		Fee:          decimalZero(),
	})

	return &domain.Settlement{
		ID:           uuid.New(),
		MarketID:     o.MarketID,
		Address:      o.Address,
		Mode:         domain.ModeP2P,
		Outcome:      o.Outcome,
		Result:       domain.ResultExpired,
		Shares:       decimalZero(),
		CostPaid:     decimalZero(),
		Payout:       o.Amount,
		Profit:       decimalZero(),
		AppSessionID: o.AppSessionID,
		CreatedAt:    time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Broker plumbing
// ──────────────────────────────────────────────────────────────────────────────

// versionSaver persists the mirrored session version after a submit lands.
type versionSaver func(ctx context.Context, appSessionID string, version int64) error

// submitAndClose pushes the v=3 state and then closes the session with the
// same allocations. Both calls are attempted exactly once; the close runs
// even when the submit failed, since the close allocation alone settles the
// funds. The mirrored version only advances on a confirmed submit.
func (s *ResolutionService) submitAndClose(ctx context.Context, sessionID string, version int64, allocations []clearnode.Allocation, blob []byte, save versionSaver) {
	next := version + 1
	if _, err := s.settlement.SubmitAppState(ctx, sessionID, clearnode.IntentOperate, next, allocations, blob); err != nil {
		slog.Error("resolution: submit app state failed",
			"app_session_id", sessionID, "version", next, "error", err)
	} else {
		if err := save(ctx, sessionID, next); err != nil {
			slog.Error("resolution: save session version failed",
				"app_session_id", sessionID, "version", next, "error", err)
		}
		s.broadcaster.Broadcast(ws.MsgSessionVersionUpdated, ws.SessionVersionUpdatedData{
			AppSessionID: sessionID,
			Version:      next,
		})
	}

	if err := s.settlement.CloseAppSession(ctx, sessionID, allocations, blob); err != nil {
		slog.Error("resolution: close app session failed",
			"app_session_id", sessionID, "error", err)
	}
	s.broadcaster.Broadcast(ws.MsgSessionSettled, ws.SessionSettledData{AppSessionID: sessionID})
}

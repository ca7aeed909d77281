package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// poolValueTTL bounds staleness of the cached market-maker balance. Pool
// stats are polled by every connected client, and each uncached read is a
// settlement-service RPC.
const poolValueTTL = 500 * time.Millisecond

// ──────────────────────────────────────────────────────────────────────────────
// Result shapes
// ──────────────────────────────────────────────────────────────────────────────

// DepositResult reports the shares issued for a deposit.
type DepositResult struct {
	Shares         decimal.Decimal `json:"shares"`
	SharePrice     decimal.Decimal `json:"sharePrice"`
	PoolValueAfter decimal.Decimal `json:"poolValueAfter"`
}

// WithdrawResult reports the amount paid out for burned shares.
type WithdrawResult struct {
	Amount         decimal.Decimal `json:"amount"`
	Shares         decimal.Decimal `json:"shares"`
	SharePrice     decimal.Decimal `json:"sharePrice"`
	PoolValueAfter decimal.Decimal `json:"poolValueAfter"`
}

// ──────────────────────────────────────────────────────────────────────────────
// LPService
// ──────────────────────────────────────────────────────────────────────────────

// LPService runs ERC-4626-style share accounting over the market-maker
// balance held at the settlement service. Share issuance and redemption
// price against the live pool value; withdrawals are blocked while any
// market is OPEN or any position's session is still open.
type LPService struct {
	lpRepo       *repository.LPRepository
	marketRepo   *repository.MarketRepository
	positionRepo *repository.PositionRepository
	settlement   Settlement
	broadcaster  Broadcaster

	// 500 ms pool-value cache
	poolMu       sync.RWMutex
	poolValue    decimal.Decimal
	poolCachedAt time.Time
}

// NewLPService creates an LPService.
func NewLPService(
	lpRepo *repository.LPRepository,
	marketRepo *repository.MarketRepository,
	positionRepo *repository.PositionRepository,
	settlement Settlement,
	broadcaster Broadcaster,
) *LPService {
	return &LPService{
		lpRepo:       lpRepo,
		marketRepo:   marketRepo,
		positionRepo: positionRepo,
		settlement:   settlement,
		broadcaster:  broadcaster,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool value
// ──────────────────────────────────────────────────────────────────────────────

// PoolValue returns the market-maker balance in dollars, cached for 500 ms.
// Satisfies PoolValuer for LMSR liquidity auto-scaling.
func (s *LPService) PoolValue(ctx context.Context) (decimal.Decimal, error) {
	s.poolMu.RLock()
	if !s.poolCachedAt.IsZero() && time.Since(s.poolCachedAt) < poolValueTTL {
		v := s.poolValue
		s.poolMu.RUnlock()
		return v, nil
	}
	s.poolMu.RUnlock()

	v, err := s.settlement.GetBalance(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("lp_service.PoolValue: %w", err)
	}

	s.poolMu.Lock()
	s.poolValue = v
	s.poolCachedAt = time.Now()
	s.poolMu.Unlock()
	return v, nil
}

// InvalidatePoolCache drops the cached balance after anything that moves
// money at the settlement service.
func (s *LPService) InvalidatePoolCache() {
	s.poolMu.Lock()
	s.poolValue = decimal.Decimal{}
	s.poolCachedAt = time.Time{}
	s.poolMu.Unlock()
}

// BroadcastPoolUpdate refreshes the pool value and pushes POOL_UPDATE to all
// clients. Called after deposits, withdrawals, and market resolution.
func (s *LPService) BroadcastPoolUpdate(ctx context.Context) {
	s.InvalidatePoolCache()
	poolValue, err := s.PoolValue(ctx)
	if err != nil {
		slog.Warn("pool update broadcast skipped", "error", err)
		return
	}
	totalShares, _, err := s.lpRepo.Totals(ctx)
	if err != nil {
		slog.Warn("pool update broadcast skipped", "error", err)
		return
	}
	s.broadcaster.Broadcast(ws.MsgPoolUpdate, ws.PoolUpdateData{
		PoolValue:   poolValue,
		TotalShares: totalShares,
		SharePrice:  domain.SharePrice(poolValue, totalShares),
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Deposit
// ──────────────────────────────────────────────────────────────────────────────

// Deposit issues shares for an amount at the share price observed before the
// deposit arrived. The funds themselves move at the settlement service on
// the client's side; the hub records the claim.
func (s *LPService) Deposit(ctx context.Context, address string, amount decimal.Decimal) (*DepositResult, error) {
	address = strings.ToLower(address)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("lp_service.Deposit: %w", domain.ErrInvalidAmount)
	}

	poolBefore, err := s.PoolValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Deposit: %w", err)
	}
	totalShares, _, err := s.lpRepo.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Deposit: %w", err)
	}

	sharePrice := domain.SharePrice(poolBefore, totalShares)
	issued := amount.Div(sharePrice)
	now := time.Now().UTC()
	event := &domain.LPEvent{
		ID:              uuid.New(),
		Address:         address,
		Type:            domain.LPDeposit,
		Amount:          amount,
		Shares:          issued,
		SharePrice:      sharePrice,
		PoolValueBefore: poolBefore,
		PoolValueAfter:  poolBefore.Add(amount),
		CreatedAt:       now,
	}
	if err := s.lpRepo.Deposit(ctx, &domain.LPShare{Address: address}, event); err != nil {
		return nil, fmt.Errorf("lp_service.Deposit: %w", err)
	}

	slog.Info("lp deposit",
		"address", address, "amount", amount, "shares", issued, "share_price", sharePrice)
	s.broadcaster.Broadcast(ws.MsgLPDeposit, ws.LPEventData{
		Address:    address,
		Amount:     amount,
		Shares:     issued,
		SharePrice: sharePrice,
	})
	s.BroadcastPoolUpdate(ctx)

	return &DepositResult{
		Shares:         issued,
		SharePrice:     sharePrice,
		PoolValueAfter: event.PoolValueAfter,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Withdraw
// ──────────────────────────────────────────────────────────────────────────────

// Withdraw burns shares and transfers the proportional slice of the pool to
// the address. The settlement-service transfer runs before the share burn so
// a failed transfer never costs the LP shares; the reverse partial failure
// (transfer done, burn failed) is logged as critical for manual repair.
func (s *LPService) Withdraw(ctx context.Context, address string, shares decimal.Decimal) (*WithdrawResult, error) {
	address = strings.ToLower(address)
	if !shares.IsPositive() {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", domain.ErrInvalidAmount)
	}

	locked, err := s.withdrawalsLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", err)
	}
	if locked {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", domain.ErrWithdrawalsLocked)
	}

	held, err := s.lpRepo.GetByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", err)
	}
	if shares.GreaterThan(held.Shares) {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", domain.ErrInsufficientShares)
	}

	poolValue, err := s.PoolValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", err)
	}
	totalShares, _, err := s.lpRepo.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", err)
	}
	if !totalShares.IsPositive() {
		return nil, fmt.Errorf("lp_service.Withdraw: %w", domain.ErrInsufficientShares)
	}

	sharePrice := domain.SharePrice(poolValue, totalShares)
	amountOut := shares.Mul(poolValue).Div(totalShares)

	if err := s.settlement.Transfer(ctx, address, amountOut); err != nil {
		return nil, fmt.Errorf("lp_service.Withdraw: transfer: %w", err)
	}

	now := time.Now().UTC()
	event := &domain.LPEvent{
		ID:              uuid.New(),
		Address:         address,
		Type:            domain.LPWithdrawal,
		Amount:          amountOut,
		Shares:          shares,
		SharePrice:      sharePrice,
		PoolValueBefore: poolValue,
		PoolValueAfter:  poolValue.Sub(amountOut),
		CreatedAt:       now,
	}
	if err := s.lpRepo.Withdraw(ctx, event); err != nil {
		// Money already left the pool. Surface loudly; the ledger needs a
		// manual correction.
		slog.Error("lp withdraw transferred but share burn failed",
			"address", address, "amount", amountOut, "shares", shares, "error", err)
		return nil, fmt.Errorf("lp_service.Withdraw: %w", err)
	}

	slog.Info("lp withdrawal",
		"address", address, "amount", amountOut, "shares", shares, "share_price", sharePrice)
	s.broadcaster.Broadcast(ws.MsgLPWithdrawal, ws.LPEventData{
		Address:    address,
		Amount:     amountOut,
		Shares:     shares,
		SharePrice: sharePrice,
	})
	s.BroadcastPoolUpdate(ctx)

	return &WithdrawResult{
		Amount:         amountOut,
		Shares:         shares,
		SharePrice:     sharePrice,
		PoolValueAfter: event.PoolValueAfter,
	}, nil
}

// withdrawalsLocked evaluates the lock policy: any OPEN market or any
// position with an open session freezes LP withdrawals.
func (s *LPService) withdrawalsLocked(ctx context.Context) (bool, error) {
	openMarkets, err := s.marketRepo.HasOpenMarkets(ctx)
	if err != nil {
		return false, err
	}
	if openMarkets {
		return true, nil
	}
	openSessions, err := s.positionRepo.HasOpenSessions(ctx)
	if err != nil {
		return false, err
	}
	return openSessions, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Stats returns the live pool snapshot, including whether withdrawals are
// currently allowed.
func (s *LPService) Stats(ctx context.Context) (*domain.PoolStats, error) {
	poolValue, err := s.PoolValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Stats: %w", err)
	}
	totalShares, lpCount, err := s.lpRepo.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Stats: %w", err)
	}
	locked, err := s.withdrawalsLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("lp_service.Stats: %w", err)
	}
	return &domain.PoolStats{
		PoolValue:   poolValue,
		TotalShares: totalShares,
		SharePrice:  domain.SharePrice(poolValue, totalShares),
		LPCount:     lpCount,
		CanWithdraw: !locked,
	}, nil
}

// GetShare returns one provider's holding.
func (s *LPService) GetShare(ctx context.Context, address string) (*domain.LPShare, error) {
	share, err := s.lpRepo.GetByAddress(ctx, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("lp_service.GetShare: %w", err)
	}
	return share, nil
}

// GetEvents returns the deposit/withdrawal ledger, optionally scoped to one
// address, newest first.
func (s *LPService) GetEvents(ctx context.Context, address string, limit int) ([]*domain.LPEvent, error) {
	if address != "" {
		address = strings.ToLower(address)
	}
	events, err := s.lpRepo.GetEvents(ctx, address, limit)
	if err != nil {
		return nil, fmt.Errorf("lp_service.GetEvents: %w", err)
	}
	return events, nil
}

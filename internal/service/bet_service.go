package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/lmsr"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / response shapes
// ──────────────────────────────────────────────────────────────────────────────

// BetRequest is the body of POST /api/bet. The client has already opened a
// settlement session holding the stake; appSessionId/appSessionVersion point
// at it.
type BetRequest struct {
	Address           string          `json:"address"           binding:"required"`
	MarketID          *uuid.UUID      `json:"marketId"`
	Outcome           string          `json:"outcome"           binding:"required"`
	Amount            decimal.Decimal `json:"amount"            binding:"required"`
	AppSessionID      string          `json:"appSessionId"      binding:"required"`
	AppSessionVersion int64           `json:"appSessionVersion" binding:"required"`
}

// BetResponse reports acceptance plus the post-trade price vector. A
// rejected bet carries only the reason; its session has already been closed
// with the stake returned.
type BetResponse struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	Shares   decimal.Decimal `json:"shares"`
	Prices   []float64       `json:"prices,omitempty"`
	Outcomes []string        `json:"outcomes,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// BetService
// ──────────────────────────────────────────────────────────────────────────────

// BetService orchestrates LMSR bet placement: quantity mutation, position
// bookkeeping, and the acceptance hand-off to the settlement service. All DB
// writes for one bet happen inside a single transaction held under the
// per-market lock; settlement RPCs run only after the lock is released.
type BetService struct {
	db           *sqlx.DB
	marketRepo   *repository.MarketRepository
	positionRepo *repository.PositionRepository
	gameRepo     *repository.GameRepository
	runtime      *config.Runtime
	settlement   Settlement
	broadcaster  Broadcaster
	locks        *MarketLocks
}

// NewBetService creates a BetService.
func NewBetService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	positionRepo *repository.PositionRepository,
	gameRepo *repository.GameRepository,
	runtime *config.Runtime,
	settlement Settlement,
	broadcaster Broadcaster,
	locks *MarketLocks,
) *BetService {
	return &BetService{
		db:           db,
		marketRepo:   marketRepo,
		positionRepo: positionRepo,
		gameRepo:     gameRepo,
		runtime:      runtime,
		settlement:   settlement,
		broadcaster:  broadcaster,
		locks:        locks,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBet
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBet validates the request, buys LMSR shares atomically under the
// per-market lock, records the position, and submits the V2 acceptance state
// to the settlement service.
//
// Rejections fall in two classes. Validation failures (bad outcome label,
// non-positive amount) return an error and leave the client's session alone.
// State rejections (market missing or not OPEN, game inactive) arrive after
// the client already locked its stake in a session, so the session is closed
// with the full stake returned and the reply is {accepted:false, reason}.
func (s *BetService) PlaceBet(ctx context.Context, req BetRequest) (*BetResponse, error) {
	// ── 1. Input validation (no session side-effects) ────────────────────────
	req.Address = strings.ToLower(req.Address)
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", domain.ErrInvalidAmount)
	}

	// ── 2. Resolve the target market ─────────────────────────────────────────
	var (
		market *domain.Market
		err    error
	)
	if req.MarketID != nil {
		market, err = s.marketRepo.GetByID(ctx, *req.MarketID)
	} else {
		market, err = s.marketRepo.GetCurrent(ctx)
	}
	if err != nil {
		if domain.IsNotFound(err) {
			return s.rejectBet(ctx, req, "market not found")
		}
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}

	// ── 3. Resolve the outcome against the category ──────────────────────────
	category, err := s.gameRepo.GetCategory(ctx, market.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}
	outcomeIndex := category.OutcomeIndex(req.Outcome)
	if outcomeIndex < 0 {
		return nil, fmt.Errorf("bet_service.PlaceBet: %q: %w", req.Outcome, domain.ErrInvalidOutcome)
	}

	// ── 4. Game and kill-switch checks ───────────────────────────────────────
	state, err := s.gameRepo.GetGameState(ctx)
	if err != nil {
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}
	if !state.Active {
		return s.rejectBet(ctx, req, "game is not active")
	}
	game, err := s.gameRepo.GetGameByID(ctx, market.GameID)
	if err != nil {
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}
	if !game.IsActive() {
		return s.rejectBet(ctx, req, "game is not active")
	}
	if !market.IsOpen() {
		return s.rejectBet(ctx, req, "market is not open for betting")
	}

	// ── 5. Trade under the per-market lock ───────────────────────────────────
	lock := s.locks.get(market.ID)
	lock.Lock()
	pos, prices, volume, txErr := s.placeBetTx(ctx, market.ID, req, category, outcomeIndex)
	lock.Unlock()
	switch {
	case errors.Is(txErr, domain.ErrMarketNotOpen):
		// Lost the race against closeMarket between the pre-check and the lock.
		return s.rejectBet(ctx, req, "market is not open for betting")
	case errors.Is(txErr, lmsr.ErrPriceInfeasible):
		return s.rejectBet(ctx, req, "bet amount is not priceable at current liquidity")
	case txErr != nil:
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", txErr)
	}

	// ── 6. Acceptance hand-off (lock released, RPC may block) ────────────────
	s.submitAcceptance(ctx, pos, req.Amount)

	// ── 7. Broadcasts ─────────────────────────────────────────────────────────
	s.broadcaster.Broadcast(ws.MsgOddsUpdate, ws.OddsUpdateData{
		MarketID: market.ID,
		Outcomes: category.Outcomes,
		Prices:   prices,
		B:        market.B,
	})
	s.broadcaster.SendTo(req.Address, ws.MsgPositionAdded, ws.PositionAddedData{Position: pos})
	s.broadcaster.Broadcast(ws.MsgVolumeUpdate, ws.VolumeUpdateData{MarketID: market.ID, Volume: volume})

	slog.Info("bet accepted",
		"market_id", market.ID,
		"address", req.Address,
		"outcome", pos.Outcome,
		"amount", req.Amount,
		"shares", pos.Shares,
	)
	return &BetResponse{
		Accepted: true,
		Shares:   pos.Shares,
		Prices:   prices,
		Outcomes: category.Outcomes,
	}, nil
}

// placeBetTx performs the money-moving half of PlaceBet inside one
// transaction: lock the market row, price the bet, write the new quantity
// vector, and insert the position at the client's session version with the
// V2 acceptance blob. Callers must hold the per-market lock.
func (s *BetService) placeBetTx(
	ctx context.Context,
	marketID uuid.UUID,
	req BetRequest,
	category *domain.Category,
	outcomeIndex int,
) (pos *domain.Position, prices []float64, volume decimal.Decimal, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, decimal.Decimal{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock the market row; re-checks OPEN under FOR UPDATE ──────────────
	m, err := s.marketRepo.LockForTrade(ctx, tx, marketID)
	if err != nil {
		return nil, nil, decimal.Decimal{}, err
	}

	// ── 2. Price the bet ──────────────────────────────────────────────────────
	shares, err := lmsr.SharesForAmount(m.Quantities, m.B, outcomeIndex, req.Amount.InexactFloat64())
	if err != nil {
		return nil, nil, decimal.Decimal{}, err
	}
	newQuantities := pq.Float64Array(lmsr.Apply(m.Quantities, outcomeIndex, shares))
	prices = lmsr.Prices(newQuantities, m.B)
	sharesDec := decimal.NewFromFloat(shares)

	// ── 3. Persist quantities + volume ────────────────────────────────────────
	if err = s.marketRepo.UpdateQuantities(ctx, tx, m.ID, newQuantities, req.Amount); err != nil {
		return nil, nil, decimal.Decimal{}, err
	}

	// ── 4. Record the position with the V2 acceptance blob ───────────────────
	now := time.Now().UTC()
	outcome := category.Outcomes[outcomeIndex]
	blob := domain.EncodeSessionData(domain.AcceptanceData{
		V:        domain.SessionDataAcceptance,
		Mode:     domain.ModeLMSR,
		Address:  req.Address,
		MarketID: m.ID,
		Outcome:  outcome,
		Amount:   req.Amount,
		Shares:   sharesDec,
		Prices:   prices,
		MCPS:     decimalZero(),
		Fee:      feeOf(sharesDec, s.runtime.FeePercent()), // projected winner fee
		TS:       now,
	})
	pos = &domain.Position{
		ID:                uuid.New(),
		Address:           req.Address,
		MarketID:          m.ID,
		OutcomeIndex:      outcomeIndex,
		Outcome:           outcome,
		Shares:            sharesDec,
		CostPaid:          req.Amount,
		FeePaid:           decimalZero(),
		Mode:              domain.ModeLMSR,
		AppSessionID:      req.AppSessionID,
		AppSessionVersion: req.AppSessionVersion,
		SessionStatus:     domain.SessionOpen,
		SessionData:       blob,
		CreatedAt:         now,
	}
	if err = s.positionRepo.Create(ctx, tx, pos); err != nil {
		return nil, nil, decimal.Decimal{}, err
	}

	// ── 5. Commit ─────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, nil, decimal.Decimal{}, fmt.Errorf("commit: %w", err)
	}
	return pos, prices, m.Volume.Add(req.Amount), nil
}

// submitAcceptance pushes the V2 state at version+1 to the settlement
// service and mirrors the new version. Failure is logged and accepted: the
// bet is already committed, and the hub's version simply stays behind until
// resolution (see the resolution pipeline's failure semantics).
func (s *BetService) submitAcceptance(ctx context.Context, pos *domain.Position, amount decimal.Decimal) {
	nextVersion := pos.AppSessionVersion + 1
	allocations := pairAllocations(s.settlement, pos.Address, amount, decimalZero())
	if _, err := s.settlement.SubmitAppState(ctx, pos.AppSessionID, clearnode.IntentOperate, nextVersion, allocations, pos.SessionData); err != nil {
		slog.Error("bet acceptance submit failed",
			"app_session_id", pos.AppSessionID, "version", nextVersion, "error", err)
		return
	}
	if err := s.positionRepo.UpdateAppSessionVersion(ctx, pos.AppSessionID, nextVersion); err != nil {
		slog.Error("session version update failed",
			"app_session_id", pos.AppSessionID, "version", nextVersion, "error", err)
		return
	}
	pos.AppSessionVersion = nextVersion
	s.broadcaster.Broadcast(ws.MsgSessionVersionUpdated, ws.SessionVersionUpdatedData{
		AppSessionID: pos.AppSessionID,
		Version:      nextVersion,
	})
}

// rejectBet closes the already-created settlement session with the full
// stake returned to the user, then reports the rejection. The close is
// best-effort: a failure leaves the session for the broker's own timeout
// handling and is only logged.
func (s *BetService) rejectBet(ctx context.Context, req BetRequest, reason string) (*BetResponse, error) {
	slog.Warn("bet rejected",
		"address", req.Address, "app_session_id", req.AppSessionID, "reason", reason)
	allocations := pairAllocations(s.settlement, req.Address, req.Amount, decimalZero())
	if err := s.settlement.CloseAppSession(ctx, req.AppSessionID, allocations, nil); err != nil {
		slog.Error("session close after rejection failed",
			"app_session_id", req.AppSessionID, "error", err)
	}
	return &BetResponse{Accepted: false, Reason: reason}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Position queries
// ──────────────────────────────────────────────────────────────────────────────

// GetPositionsByAddress returns every live position for an address.
func (s *BetService) GetPositionsByAddress(ctx context.Context, address string) ([]*domain.Position, error) {
	positions, err := s.positionRepo.GetByAddress(ctx, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("bet_service.GetPositionsByAddress: %w", err)
	}
	return positions, nil
}

// GetOpenPositionsByAddress returns the positions whose sessions are still
// open, used for the WS state sync.
func (s *BetService) GetOpenPositionsByAddress(ctx context.Context, address string) ([]*domain.Position, error) {
	positions, err := s.positionRepo.GetOpenByAddress(ctx, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("bet_service.GetOpenPositionsByAddress: %w", err)
	}
	return positions, nil
}

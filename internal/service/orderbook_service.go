package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/clearnode"
	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / response shapes
// ──────────────────────────────────────────────────────────────────────────────

// OrderRequest is the body of POST /api/orderbook/order. MCPS is the maximum
// cost per share the user will pay, strictly between 0 and 1.
type OrderRequest struct {
	MarketID          *uuid.UUID      `json:"marketId"`
	GameID            *uuid.UUID      `json:"gameId"`
	Address           string          `json:"userAddress"       binding:"required"`
	Outcome           string          `json:"outcome"           binding:"required"`
	MCPS              decimal.Decimal `json:"mcps"              binding:"required"`
	Amount            decimal.Decimal `json:"amount"            binding:"required"`
	AppSessionID      string          `json:"appSessionId"      binding:"required"`
	AppSessionVersion int64           `json:"appSessionVersion" binding:"required"`
}

// OrderResponse reports the taker order after matching, with any fills that
// executed on placement.
type OrderResponse struct {
	OrderID uuid.UUID          `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
	Fills   []*domain.Fill     `json:"fills"`
	Order   *domain.Order      `json:"order"`
}

// ──────────────────────────────────────────────────────────────────────────────
// OrderBookService
// ──────────────────────────────────────────────────────────────────────────────

// OrderBookService runs the peer-to-peer limit order book for binary
// markets. Two orders on opposite outcomes cross when their limit prices
// cover the $1 unit payout between them; each side fills at its own price.
// Matching shares the per-market lock with LMSR betting so quantity and
// ledger updates serialize.
type OrderBookService struct {
	orderRepo   *repository.OrderRepository
	marketRepo  *repository.MarketRepository
	gameRepo    *repository.GameRepository
	runtime     *config.Runtime
	settlement  Settlement
	broadcaster Broadcaster
	locks       *MarketLocks
}

// NewOrderBookService creates an OrderBookService.
func NewOrderBookService(
	orderRepo *repository.OrderRepository,
	marketRepo *repository.MarketRepository,
	gameRepo *repository.GameRepository,
	runtime *config.Runtime,
	settlement Settlement,
	broadcaster Broadcaster,
	locks *MarketLocks,
) *OrderBookService {
	return &OrderBookService{
		orderRepo:   orderRepo,
		marketRepo:  marketRepo,
		gameRepo:    gameRepo,
		runtime:     runtime,
		settlement:  settlement,
		broadcaster: broadcaster,
		locks:       locks,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceOrder
// ──────────────────────────────────────────────────────────────────────────────

// PlaceOrder validates the request, matches it against eligible resting
// orders on the opposite outcome under the per-market lock, and rests any
// remainder on the book.
//
// Like bet placement, a rejection after the client has already locked its
// stake in a settlement session (market not OPEN or missing, game inactive,
// non-binary category) closes that session with the full stake returned
// before the error is reported. Validation failures return without touching
// the session.
func (s *OrderBookService) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	// ── 1. Input validation (no session side-effects) ────────────────────────
	req.Address = strings.ToLower(req.Address)
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: amount: %w", domain.ErrInvalidAmount)
	}
	one := decimal.NewFromInt(1)
	if !req.MCPS.IsPositive() || req.MCPS.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: mcps must be in (0,1): %w", domain.ErrInvalidAmount)
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
			return nil, s.rejectOrder(ctx, req, err)
		}
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %w", err)
	}

	// ── 3. Category checks: outcome label, then binary shape ─────────────────
	category, err := s.gameRepo.GetCategory(ctx, market.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %w", err)
	}
	outcomeIndex := category.OutcomeIndex(req.Outcome)
	if outcomeIndex < 0 {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %q: %w", req.Outcome, domain.ErrInvalidOutcome)
	}
	if !category.IsBinary() {
		return nil, s.rejectOrder(ctx, req, domain.ErrUnsupportedMarket)
	}

	// ── 4. Game and kill-switch checks ───────────────────────────────────────
	state, err := s.gameRepo.GetGameState(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %w", err)
	}
	if !state.Active {
		return nil, s.rejectOrder(ctx, req, domain.ErrGameNotActive)
	}
	game, err := s.gameRepo.GetGameByID(ctx, market.GameID)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %w", err)
	}
	if !game.IsActive() {
		return nil, s.rejectOrder(ctx, req, domain.ErrGameNotActive)
	}
	if !market.IsOpen() {
		return nil, s.rejectOrder(ctx, req, domain.ErrMarketNotOpen)
	}

	// ── 5. Match under the per-market lock ───────────────────────────────────
	lock := s.locks.get(market.ID)
	lock.Lock()
	taker, fills, makers, volume, txErr := s.matchTx(ctx, market.ID, req, category, outcomeIndex)
	lock.Unlock()
	if txErr != nil {
		if errors.Is(txErr, domain.ErrMarketNotOpen) {
			return nil, s.rejectOrder(ctx, req, domain.ErrMarketNotOpen)
		}
		return nil, fmt.Errorf("orderbook_service.PlaceOrder: %w", txErr)
	}

	// ── 6. Acceptance hand-off (lock released, RPC may block) ────────────────
	s.submitOrderAcceptance(ctx, taker)

	// ── 7. Broadcasts ─────────────────────────────────────────────────────────
	s.broadcaster.Broadcast(ws.MsgOrderPlaced, ws.OrderPlacedData{Order: taker})
	for i, fill := range fills {
		maker := makers[i]
		s.broadcaster.SendTo(taker.Address, ws.MsgOrderFilled, ws.OrderFilledData{
			OrderID: taker.ID, Fill: fill, Status: string(taker.Status),
		})
		s.broadcaster.SendTo(maker.Address, ws.MsgOrderFilled, ws.OrderFilledData{
			OrderID: maker.ID, Fill: fill, Status: string(maker.Status),
		})
	}
	if len(fills) > 0 {
		s.broadcaster.Broadcast(ws.MsgVolumeUpdate, ws.VolumeUpdateData{MarketID: market.ID, Volume: volume})
	}
	s.broadcastDepth(ctx, market.ID, category)

	slog.Info("order placed",
		"market_id", market.ID,
		"order_id", taker.ID,
		"address", taker.Address,
		"outcome", taker.Outcome,
		"mcps", taker.MCPS,
		"amount", taker.Amount,
		"fills", len(fills),
		"status", taker.Status,
	)
	return &OrderResponse{OrderID: taker.ID, Status: taker.Status, Fills: fills, Order: taker}, nil
}

// matchTx performs the matching half of PlaceOrder inside one transaction:
// lock the market row, lock eligible makers on the opposite outcome (best
// price first, ties by age), sweep them, and insert the taker with its final
// ledger. Callers must hold the per-market lock. The returned makers slice
// is index-aligned with fills.
func (s *OrderBookService) matchTx(
	ctx context.Context,
	marketID uuid.UUID,
	req OrderRequest,
	category *domain.Category,
	outcomeIndex int,
) (taker *domain.Order, fills []*domain.Fill, makers []*domain.Order, volume decimal.Decimal, err error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return nil, nil, nil, decimal.Decimal{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock the market row; re-checks OPEN under FOR UPDATE ──────────────
	m, err := s.marketRepo.LockForTrade(ctx, tx, marketID)
	if err != nil {
		return nil, nil, nil, decimal.Decimal{}, err
	}

	taker = domain.NewOrder(m.ID, m.GameID, req.Address, outcomeIndex,
		category.Outcomes[outcomeIndex], req.MCPS, req.Amount,
		req.AppSessionID, req.AppSessionVersion)

	// ── 2. Sweep eligible makers on the opposite outcome ─────────────────────
	oppositeIndex := 1 - outcomeIndex
	eligible, err := s.orderRepo.LockEligibleMakers(ctx, tx, m.ID, oppositeIndex, req.MCPS)
	if err != nil {
		return nil, nil, nil, decimal.Decimal{}, err
	}

	now := time.Now().UTC()
	tradedVolume := decimalZero()
	for _, maker := range eligible {
		if !taker.UnfilledShares.IsPositive() {
			break
		}
		matched := decimal.Min(taker.UnfilledShares, maker.UnfilledShares)
		if !matched.IsPositive() {
			continue
		}
		taker.ApplyFill(matched)
		maker.ApplyFill(matched)

		fill := &domain.Fill{
			ID:           uuid.New(),
			MarketID:     m.ID,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			Shares:       matched,
			TakerPrice:   taker.MCPS,
			MakerPrice:   maker.MCPS,
			TakerCost:    matched.Mul(taker.MCPS),
			MakerCost:    matched.Mul(maker.MCPS),
			CreatedAt:    now,
		}
		if err = s.orderRepo.InsertFill(ctx, tx, fill); err != nil {
			return nil, nil, nil, decimal.Decimal{}, err
		}
		if err = s.orderRepo.UpdateFill(ctx, tx, maker); err != nil {
			return nil, nil, nil, decimal.Decimal{}, err
		}
		fills = append(fills, fill)
		makers = append(makers, maker)
		tradedVolume = tradedVolume.Add(fill.TakerCost).Add(fill.MakerCost)
	}

	// ── 3. Insert the taker with its post-match ledger ────────────────────────
	if err = s.orderRepo.Create(ctx, tx, taker); err != nil {
		return nil, nil, nil, decimal.Decimal{}, err
	}

	// ── 4. Matched value counts toward market volume ──────────────────────────
	if tradedVolume.IsPositive() {
		if err = s.marketRepo.AddVolume(ctx, tx, m.ID, tradedVolume); err != nil {
			return nil, nil, nil, decimal.Decimal{}, err
		}
	}

	// ── 5. Commit ─────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, nil, nil, decimal.Decimal{}, fmt.Errorf("commit: %w", err)
	}
	return taker, fills, makers, m.Volume.Add(tradedVolume), nil
}

// submitOrderAcceptance pushes the V2 state at version+1 for the taker's
// session and mirrors the new version. Maker sessions are left at their
// current version; their terms did not change, only their fill ledgers.
// Failure is logged and accepted, same as bet acceptance.
func (s *OrderBookService) submitOrderAcceptance(ctx context.Context, o *domain.Order) {
	blob := domain.EncodeSessionData(domain.AcceptanceData{
		V:        domain.SessionDataAcceptance,
		Mode:     domain.ModeP2P,
		Address:  o.Address,
		MarketID: o.MarketID,
		Outcome:  o.Outcome,
		Amount:   o.Amount,
		Shares:   o.MaxShares,
		MCPS:     o.MCPS,
		Fee:      feeOf(o.MaxShares, s.runtime.FeePercent()), // projected winner fee
		TS:       time.Now().UTC(),
	})
	nextVersion := o.AppSessionVersion + 1
	allocations := pairAllocations(s.settlement, o.Address, o.Amount, decimalZero())
	if _, err := s.settlement.SubmitAppState(ctx, o.AppSessionID, clearnode.IntentOperate, nextVersion, allocations, blob); err != nil {
		slog.Error("order acceptance submit failed",
			"app_session_id", o.AppSessionID, "version", nextVersion, "error", err)
		return
	}
	if err := s.orderRepo.UpdateAppSessionVersion(ctx, o.AppSessionID, nextVersion); err != nil {
		slog.Error("order session version update failed",
			"app_session_id", o.AppSessionID, "version", nextVersion, "error", err)
		return
	}
	o.AppSessionVersion = nextVersion
	s.broadcaster.Broadcast(ws.MsgSessionVersionUpdated, ws.SessionVersionUpdatedData{
		AppSessionID: o.AppSessionID,
		Version:      nextVersion,
	})
}

// rejectOrder closes the order's settlement session with the full stake
// returned, then wraps the cause for the caller. Best-effort, like bet
// rejection.
func (s *OrderBookService) rejectOrder(ctx context.Context, req OrderRequest, cause error) error {
	slog.Warn("order rejected",
		"address", req.Address, "app_session_id", req.AppSessionID, "reason", cause)
	allocations := pairAllocations(s.settlement, req.Address, req.Amount, decimalZero())
	if err := s.settlement.CloseAppSession(ctx, req.AppSessionID, allocations, nil); err != nil {
		slog.Error("session close after rejection failed",
			"app_session_id", req.AppSessionID, "error", err)
	}
	return fmt.Errorf("orderbook_service.PlaceOrder: %w", cause)
}

// ──────────────────────────────────────────────────────────────────────────────
// CancelOrder
// ──────────────────────────────────────────────────────────────────────────────

// CancelOrder marks a resting order CANCELLED. Its settlement session stays
// open: the filled portion settles in the resolution pipeline and the
// unfilled funds are returned there too.
func (s *OrderBookService) CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := s.orderRepo.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.CancelOrder: %w", err)
	}
	slog.Info("order cancelled", "order_id", o.ID, "market_id", o.MarketID, "filled_shares", o.FilledShares)
	s.broadcaster.Broadcast(ws.MsgOrderCancelled, ws.OrderCancelledData{Order: o})

	if category, catErr := s.categoryForMarket(ctx, o.MarketID); catErr == nil {
		s.broadcastDepth(ctx, o.MarketID, category)
	}
	return o, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetDepth aggregates resting size into per-outcome price levels, keyed by
// outcome label and sorted descending by price.
func (s *OrderBookService) GetDepth(ctx context.Context, marketID uuid.UUID) (*domain.DepthSnapshot, error) {
	category, err := s.categoryForMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.GetDepth: %w", err)
	}
	return s.buildDepth(ctx, marketID, category)
}

// GetOrdersByAddress returns an address's orders, optionally scoped to one
// market, newest first.
func (s *OrderBookService) GetOrdersByAddress(ctx context.Context, address string, marketID *uuid.UUID) ([]*domain.Order, error) {
	orders, err := s.orderRepo.GetByAddress(ctx, strings.ToLower(address), marketID)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.GetOrdersByAddress: %w", err)
	}
	return orders, nil
}

// GetRestingOrdersByAddress returns the address's OPEN/PARTIALLY_FILLED
// orders, used for the WS state sync.
func (s *OrderBookService) GetRestingOrdersByAddress(ctx context.Context, address string) ([]*domain.Order, error) {
	orders, err := s.orderRepo.GetRestingByAddress(ctx, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.GetRestingOrdersByAddress: %w", err)
	}
	return orders, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *OrderBookService) categoryForMarket(ctx context.Context, marketID uuid.UUID) (*domain.Category, error) {
	m, err := s.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return s.gameRepo.GetCategory(ctx, m.CategoryID)
}

func (s *OrderBookService) buildDepth(ctx context.Context, marketID uuid.UUID, category *domain.Category) (*domain.DepthSnapshot, error) {
	byIndex, err := s.orderRepo.GetDepth(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("orderbook_service.buildDepth: %w", err)
	}
	outcomes := make(map[string][]domain.DepthLevel, len(category.Outcomes))
	for i, label := range category.Outcomes {
		levels := byIndex[i]
		if levels == nil {
			levels = []domain.DepthLevel{}
		}
		outcomes[label] = levels
	}
	return &domain.DepthSnapshot{
		MarketID:  marketID,
		Outcomes:  outcomes,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (s *OrderBookService) broadcastDepth(ctx context.Context, marketID uuid.UUID, category *domain.Category) {
	snapshot, err := s.buildDepth(ctx, marketID, category)
	if err != nil {
		slog.Warn("orderbook depth broadcast skipped", "market_id", marketID, "error", err)
		return
	}
	s.broadcaster.Broadcast(ws.MsgOrderbookUpdate, snapshot)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// OrderRepository handles all database operations for P2P limit orders and
// their fills. Matching mutations run inside a caller-owned transaction so
// the taker insert, maker updates, and fill rows commit together.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// BeginTx starts a transaction for a matching run.
func (r *OrderRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("order_repo.BeginTx: %w", err)
	}
	return tx, nil
}

// Create inserts a new order inside an existing transaction. A duplicate
// app-session id surfaces as ErrSessionExists.
func (r *OrderRepository) Create(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	query := `
		INSERT INTO p2p_orders
			(id, market_id, game_id, address, outcome_index, outcome, mcps,
			 amount, filled_amount, unfilled_amount,
			 max_shares, filled_shares, unfilled_shares,
			 status, app_session_id, app_session_version, created_at, updated_at)
		VALUES
			(:id, :market_id, :game_id, :address, :outcome_index, :outcome, :mcps,
			 :amount, :filled_amount, :unfilled_amount,
			 :max_shares, :filled_shares, :unfilled_shares,
			 :status, :app_session_id, :app_session_version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, o); err != nil {
		if isUniqueViolation(err, "p2p_orders_app_session_id_key") {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("order_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches an order by its primary key.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := r.db.GetContext(ctx, &o, `SELECT * FROM p2p_orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("order_repo.GetByID: %w", err)
	}
	return &o, nil
}

// LockEligibleMakers returns the resting orders on the given outcome that an
// incoming opposite-side order at incomingMCPS can cross, best price first,
// ties by arrival time. Rows are locked FOR UPDATE for the life of the
// matching transaction.
func (r *OrderRepository) LockEligibleMakers(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, outcomeIndex int, incomingMCPS decimal.Decimal) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := tx.SelectContext(ctx, &orders, `
		SELECT * FROM p2p_orders
		WHERE market_id = $1
		  AND outcome_index = $2
		  AND status IN ('OPEN', 'PARTIALLY_FILLED')
		  AND mcps + $3 >= 1
		ORDER BY mcps DESC, created_at ASC
		FOR UPDATE`,
		marketID, outcomeIndex, incomingMCPS)
	if err != nil {
		return nil, fmt.Errorf("order_repo.LockEligibleMakers: %w", err)
	}
	return orders, nil
}

// UpdateFill persists an order's fill ledger and status after ApplyFill.
func (r *OrderRepository) UpdateFill(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE p2p_orders
		SET filled_amount   = $1,
		    unfilled_amount = $2,
		    filled_shares   = $3,
		    unfilled_shares = $4,
		    status          = $5,
		    updated_at      = now()
		WHERE id = $6`,
		o.FilledAmount, o.UnfilledAmount, o.FilledShares, o.UnfilledShares, o.Status, o.ID)
	if err != nil {
		return fmt.Errorf("order_repo.UpdateFill: %w", err)
	}
	return nil
}

// InsertFill records one immutable match inside the matching transaction.
func (r *OrderRepository) InsertFill(ctx context.Context, tx *sqlx.Tx, f *domain.Fill) error {
	query := `
		INSERT INTO p2p_fills
			(id, market_id, taker_order_id, maker_order_id, shares,
			 taker_price, maker_price, taker_cost, maker_cost, created_at)
		VALUES
			(:id, :market_id, :taker_order_id, :maker_order_id, :shares,
			 :taker_price, :maker_price, :taker_cost, :maker_cost, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("order_repo.InsertFill: %w", err)
	}
	return nil
}

// Cancel marks a resting order CANCELLED and returns the updated row. The
// guarded UPDATE rejects terminal orders; the session stays open so
// resolution can return the unfilled funds.
func (r *OrderRepository) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := r.db.GetContext(ctx, &o, `
		UPDATE p2p_orders
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')
		RETURNING *`,
		id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrOrderNotCancellable
		}
		return nil, fmt.Errorf("order_repo.Cancel: %w", err)
	}
	return &o, nil
}

// GetByAddress returns an address's orders, optionally scoped to one market,
// newest first.
func (r *OrderRepository) GetByAddress(ctx context.Context, address string, marketID *uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	var err error
	if marketID != nil {
		err = r.db.SelectContext(ctx, &orders,
			`SELECT * FROM p2p_orders WHERE address = $1 AND market_id = $2 ORDER BY created_at DESC`,
			address, *marketID)
	} else {
		err = r.db.SelectContext(ctx, &orders,
			`SELECT * FROM p2p_orders WHERE address = $1 ORDER BY created_at DESC`,
			address)
	}
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetByAddress: %w", err)
	}
	return orders, nil
}

// GetRestingByAddress returns the address's orders still live on any book.
// Used to build STATE_SYNC payloads.
func (r *OrderRepository) GetRestingByAddress(ctx context.Context, address string) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM p2p_orders
		WHERE address = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')
		ORDER BY created_at ASC`,
		address)
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetRestingByAddress: %w", err)
	}
	return orders, nil
}

// GetDepth aggregates resting size per outcome index and price, best price
// first within each outcome.
func (r *OrderRepository) GetDepth(ctx context.Context, marketID uuid.UUID) (map[int][]domain.DepthLevel, error) {
	type depthRow struct {
		OutcomeIndex int             `db:"outcome_index"`
		Price        decimal.Decimal `db:"price"`
		Shares       decimal.Decimal `db:"shares"`
		OrderCount   int             `db:"order_count"`
	}
	var rows []depthRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT outcome_index,
		       mcps                 AS price,
		       SUM(unfilled_shares) AS shares,
		       COUNT(*)             AS order_count
		FROM p2p_orders
		WHERE market_id = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')
		GROUP BY outcome_index, mcps
		ORDER BY outcome_index ASC, mcps DESC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetDepth: %w", err)
	}

	depth := make(map[int][]domain.DepthLevel)
	for _, row := range rows {
		depth[row.OutcomeIndex] = append(depth[row.OutcomeIndex], domain.DepthLevel{
			Price:      row.Price,
			Shares:     row.Shares,
			OrderCount: row.OrderCount,
		})
	}
	return depth, nil
}

// GetFilledForResolution returns every order carrying filled shares that has
// not yet been settled, regardless of whether it was later cancelled.
func (r *OrderRepository) GetFilledForResolution(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM p2p_orders
		WHERE market_id = $1 AND filled_shares > 0 AND status <> 'SETTLED'
		ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetFilledForResolution: %w", err)
	}
	return orders, nil
}

// ExpireUnfilled flips every fully-unfilled OPEN order on the market to
// EXPIRED and returns the affected rows so their sessions can be closed.
func (r *OrderRepository) ExpireUnfilled(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.db.SelectContext(ctx, &orders, `
		UPDATE p2p_orders
		SET status = 'EXPIRED', updated_at = now()
		WHERE market_id = $1 AND filled_shares = 0 AND status = 'OPEN'
		RETURNING *`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("order_repo.ExpireUnfilled: %w", err)
	}
	return orders, nil
}

// GetCancelledUnfilled returns fully-unfilled cancelled orders whose
// sessions still hold the stake and must be closed at resolution.
func (r *OrderRepository) GetCancelledUnfilled(ctx context.Context, marketID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM p2p_orders
		WHERE market_id = $1 AND filled_shares = 0 AND status = 'CANCELLED'
		ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetCancelledUnfilled: %w", err)
	}
	return orders, nil
}

// SettleOrder advances an order to SETTLED after its session closed.
func (r *OrderRepository) SettleOrder(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE p2p_orders SET status = 'SETTLED', updated_at = now() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("order_repo.SettleOrder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// UpdateAppSessionVersion mirrors the broker's session version for an order,
// with the same strict monotonicity guard as positions.
func (r *OrderRepository) UpdateAppSessionVersion(ctx context.Context, appSessionID string, version int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE p2p_orders
		SET app_session_version = $2
		WHERE app_session_id = $1 AND app_session_version < $2`,
		appSessionID, version)
	if err != nil {
		return fmt.Errorf("order_repo.UpdateAppSessionVersion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if getErr := r.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM p2p_orders WHERE app_session_id = $1`, appSessionID); getErr != nil {
			return fmt.Errorf("order_repo.UpdateAppSessionVersion: %w", getErr)
		}
		if count == 0 {
			return domain.ErrOrderNotFound
		}
		return domain.ErrSessionVersionRegression
	}
	return nil
}

// GetFillsByMarket returns a market's fills, oldest first.
func (r *OrderRepository) GetFillsByMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Fill, error) {
	var fills []*domain.Fill
	err := r.db.SelectContext(ctx, &fills,
		`SELECT * FROM p2p_fills WHERE market_id = $1 ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("order_repo.GetFillsByMarket: %w", err)
	}
	return fills, nil
}

// Package repository contains all PostgreSQL data access, built on sqlx.
// Every method wraps driver errors with its own name and translates
// sql.ErrNoRows (and constraint violations) into domain sentinels.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaks.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint violation,
// optionally on a specific constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// MarketRepository handles all database operations for Markets.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Create inserts a new market row. The partial unique index on
// (game_id, category_id) WHERE status <> 'RESOLVED' enforces the one-live-
// market rule; violations surface as ErrMarketExists.
func (r *MarketRepository) Create(ctx context.Context, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, game_id, category_id, status, result, quantities, liquidity_b, volume, created_at, updated_at)
		VALUES
			(:id, :game_id, :category_id, :status, :result, :quantities, :liquidity_b, :volume, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		if isUniqueViolation(err, "idx_markets_one_live") {
			return domain.ErrMarketExists
		}
		return fmt.Errorf("market_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a market by its primary key.
func (r *MarketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return &m, nil
}

// GetCurrent returns the most recent non-RESOLVED market, or
// ErrNoOpenMarket when every market has been settled.
func (r *MarketRepository) GetCurrent(ctx context.Context) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m,
		`SELECT * FROM markets WHERE status <> 'RESOLVED' ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoOpenMarket
		}
		return nil, fmt.Errorf("market_repo.GetCurrent: %w", err)
	}
	return &m, nil
}

// GetCurrentForPair returns the live (non-RESOLVED) market for a
// game/category pair. The partial unique index guarantees at most one.
func (r *MarketRepository) GetCurrentForPair(ctx context.Context, gameID uuid.UUID, categoryID string) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m,
		`SELECT * FROM markets WHERE game_id = $1 AND category_id = $2 AND status <> 'RESOLVED'`,
		gameID, categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoOpenMarket
		}
		return nil, fmt.Errorf("market_repo.GetCurrentForPair: %w", err)
	}
	return &m, nil
}

// UpdateStatus performs a guarded lifecycle transition. The WHERE clause
// only matches the expected prior status, so a concurrent transition loses
// the race cleanly instead of skipping a state.
func (r *MarketRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.MarketStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE markets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("market_repo.UpdateStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrIllegalMarketState
	}
	return nil
}

// LockForTrade locks the market row inside tx and returns it, requiring
// OPEN status. Betting and matching always pass through here so two
// transactions can never interleave quantity updates.
func (r *MarketRepository) LockForTrade(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.LockForTrade: %w", err)
	}
	if m.Status != domain.MarketOpen {
		return nil, domain.ErrMarketNotOpen
	}
	return &m, nil
}

// UpdateQuantities writes a new quantity vector and accumulates traded
// volume inside an existing transaction (after LockForTrade).
func (r *MarketRepository) UpdateQuantities(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, quantities pq.Float64Array, volumeDelta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET quantities = $1,
		    volume     = volume + $2,
		    updated_at = now()
		WHERE id = $3`,
		quantities, volumeDelta, id)
	if err != nil {
		return fmt.Errorf("market_repo.UpdateQuantities: %w", err)
	}
	return nil
}

// AddVolume accumulates traded volume without touching quantities (P2P
// fills do not move the LMSR vector).
func (r *MarketRepository) AddVolume(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, volumeDelta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE markets SET volume = volume + $1, updated_at = now() WHERE id = $2`,
		volumeDelta, id)
	if err != nil {
		return fmt.Errorf("market_repo.AddVolume: %w", err)
	}
	return nil
}

// Resolve records the winning outcome and moves CLOSED → RESOLVED.
func (r *MarketRepository) Resolve(ctx context.Context, id uuid.UUID, outcome string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE markets
		SET status      = 'RESOLVED',
		    result      = $1,
		    resolved_at = now(),
		    updated_at  = now()
		WHERE id = $2 AND status = 'CLOSED'`,
		outcome, id)
	if err != nil {
		return fmt.Errorf("market_repo.Resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrIllegalMarketState
	}
	return nil
}

// HasOpenMarkets reports whether any market is currently OPEN. Drives the
// LP withdrawal-lock policy.
func (r *MarketRepository) HasOpenMarkets(ctx context.Context) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM markets WHERE status = 'OPEN'`)
	if err != nil {
		return false, fmt.Errorf("market_repo.HasOpenMarkets: %w", err)
	}
	return count > 0, nil
}

// List returns a paginated slice of markets filtered by optional status.
// status="" returns all statuses. Returns (markets, totalCount, error).
func (r *MarketRepository) List(ctx context.Context, limit, offset int, status string) ([]*domain.Market, int, error) {
	var markets []*domain.Market
	var total int

	if status != "" {
		if err := r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM markets WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets`); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	}
	return markets, total, nil
}

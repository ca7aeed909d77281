package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// LPRepository handles all database operations for liquidity-provider share
// rows and the append-only deposit/withdrawal ledger.
type LPRepository struct {
	db *sqlx.DB
}

// NewLPRepository creates a new LPRepository.
func NewLPRepository(db *sqlx.DB) *LPRepository {
	return &LPRepository{db: db}
}

// GetByAddress fetches an LP's share row.
func (r *LPRepository) GetByAddress(ctx context.Context, address string) (*domain.LPShare, error) {
	var s domain.LPShare
	err := r.db.GetContext(ctx, &s, `SELECT * FROM lp_shares WHERE address = $1`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLPShareNotFound
		}
		return nil, fmt.Errorf("lp_repo.GetByAddress: %w", err)
	}
	return &s, nil
}

// GetAll returns every LP share row, largest holdings first.
func (r *LPRepository) GetAll(ctx context.Context) ([]*domain.LPShare, error) {
	var shares []*domain.LPShare
	err := r.db.SelectContext(ctx, &shares,
		`SELECT * FROM lp_shares ORDER BY shares DESC`)
	if err != nil {
		return nil, fmt.Errorf("lp_repo.GetAll: %w", err)
	}
	return shares, nil
}

// Totals returns the outstanding share count and the number of addresses
// holding a positive balance.
func (r *LPRepository) Totals(ctx context.Context) (totalShares decimal.Decimal, lpCount int, err error) {
	var row struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"count"`
	}
	err = r.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(shares), 0)        AS total,
		       COUNT(*) FILTER (WHERE shares > 0) AS count
		FROM lp_shares`)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("lp_repo.Totals: %w", err)
	}
	return row.Total, row.Count, nil
}

// Deposit credits issued shares to an address (inserting the row on first
// deposit) and appends the DEPOSIT ledger event, in one transaction.
func (r *LPRepository) Deposit(ctx context.Context, share *domain.LPShare, event *domain.LPEvent) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lp_repo.Deposit begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lp_shares (address, shares, total_deposited, total_withdrawn, first_deposit_at, last_action_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (address) DO UPDATE
		SET shares          = lp_shares.shares + EXCLUDED.shares,
		    total_deposited = lp_shares.total_deposited + EXCLUDED.total_deposited,
		    last_action_at  = EXCLUDED.last_action_at`,
		share.Address, event.Shares, event.Amount, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("lp_repo.Deposit upsert: %w", err)
	}

	if err = r.insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("lp_repo.Deposit commit: %w", err)
	}
	return nil
}

// Withdraw burns shares from an address under a FOR UPDATE guard and appends
// the WITHDRAWAL ledger event, in one transaction. Returns
// ErrInsufficientShares when the address holds fewer shares than requested.
func (r *LPRepository) Withdraw(ctx context.Context, event *domain.LPEvent) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lp_repo.Withdraw begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var held decimal.Decimal
	err = tx.GetContext(ctx, &held,
		`SELECT shares FROM lp_shares WHERE address = $1 FOR UPDATE`, event.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrLPShareNotFound
		}
		return fmt.Errorf("lp_repo.Withdraw lock: %w", err)
	}
	if held.LessThan(event.Shares) {
		return domain.ErrInsufficientShares
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE lp_shares
		SET shares          = shares - $1,
		    total_withdrawn = total_withdrawn + $2,
		    last_action_at  = $3
		WHERE address = $4`,
		event.Shares, event.Amount, event.CreatedAt, event.Address)
	if err != nil {
		return fmt.Errorf("lp_repo.Withdraw update: %w", err)
	}

	if err = r.insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("lp_repo.Withdraw commit: %w", err)
	}
	return nil
}

func (r *LPRepository) insertEvent(ctx context.Context, tx *sqlx.Tx, e *domain.LPEvent) error {
	query := `
		INSERT INTO lp_events
			(id, address, type, amount, shares, share_price, pool_value_before, pool_value_after, created_at)
		VALUES
			(:id, :address, :type, :amount, :shares, :share_price, :pool_value_before, :pool_value_after, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("lp_repo.insertEvent: %w", err)
	}
	return nil
}

// GetEvents returns the ledger, optionally filtered to one address, newest
// first.
func (r *LPRepository) GetEvents(ctx context.Context, address string, limit int) ([]*domain.LPEvent, error) {
	var events []*domain.LPEvent
	var err error
	if address != "" {
		err = r.db.SelectContext(ctx, &events,
			`SELECT * FROM lp_events WHERE address = $1 ORDER BY created_at DESC LIMIT $2`,
			address, limit)
	} else {
		err = r.db.SelectContext(ctx, &events,
			`SELECT * FROM lp_events ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("lp_repo.GetEvents: %w", err)
	}
	return events, nil
}

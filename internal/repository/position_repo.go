package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pitchside/hub/internal/domain"
)

// PositionRepository handles all database operations for Positions and the
// settlements archive. Positions are appended on bet acceptance and mutated
// only through their app-session id afterwards.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new position inside an existing transaction. A duplicate
// app-session id surfaces as ErrSessionExists.
func (r *PositionRepository) Create(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, address, market_id, outcome_index, outcome, shares, cost_paid, fee_paid,
			 mode, app_session_id, app_session_version, session_status, session_data, created_at)
		VALUES
			(:id, :address, :market_id, :outcome_index, :outcome, :shares, :cost_paid, :fee_paid,
			 :mode, :app_session_id, :app_session_version, :session_status, :session_data, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		if isUniqueViolation(err, "positions_app_session_id_key") {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("position_repo.Create: %w", err)
	}
	return nil
}

// GetByAddress returns all of an address's positions, newest first.
func (r *PositionRepository) GetByAddress(ctx context.Context, address string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE address = $1 ORDER BY created_at DESC`,
		address)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetByAddress: %w", err)
	}
	return positions, nil
}

// GetOpenByAddress returns the address's positions whose sessions are still
// open, oldest first. Used to build STATE_SYNC payloads.
func (r *PositionRepository) GetOpenByAddress(ctx context.Context, address string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE address = $1 AND session_status = 'open' ORDER BY created_at ASC`,
		address)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetOpenByAddress: %w", err)
	}
	return positions, nil
}

// GetByMarket returns every position in a market, oldest first.
func (r *PositionRepository) GetByMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE market_id = $1 ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetByMarket: %w", err)
	}
	return positions, nil
}

// GetOpenByMarket returns the market's positions still awaiting settlement.
func (r *PositionRepository) GetOpenByMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions WHERE market_id = $1 AND session_status = 'open' ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetOpenByMarket: %w", err)
	}
	return positions, nil
}

// GetBySession fetches the position bound to an app-session id.
func (r *PositionRepository) GetBySession(ctx context.Context, appSessionID string) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM positions WHERE app_session_id = $1`, appSessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetBySession: %w", err)
	}
	return &p, nil
}

// UpdateAppSessionVersion advances the mirrored session version. The WHERE
// clause enforces strict monotonicity: an equal or lower version matches no
// row and fails with ErrSessionVersionRegression.
func (r *PositionRepository) UpdateAppSessionVersion(ctx context.Context, appSessionID string, version int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET app_session_version = $2
		WHERE app_session_id = $1 AND app_session_version < $2`,
		appSessionID, version)
	if err != nil {
		return fmt.Errorf("position_repo.UpdateAppSessionVersion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetBySession(ctx, appSessionID); getErr != nil {
			return getErr
		}
		return domain.ErrSessionVersionRegression
	}
	return nil
}

// UpdateSessionData replaces the versioned session-data blob.
func (r *PositionRepository) UpdateSessionData(ctx context.Context, appSessionID string, data []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET session_data = $2 WHERE app_session_id = $1`,
		appSessionID, data)
	if err != nil {
		return fmt.Errorf("position_repo.UpdateSessionData: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// UpdateSessionStatus moves a session between open → settling → settled.
func (r *PositionRepository) UpdateSessionStatus(ctx context.Context, appSessionID string, status domain.SessionStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET session_status = $2 WHERE app_session_id = $1`,
		appSessionID, status)
	if err != nil {
		return fmt.Errorf("position_repo.UpdateSessionStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// HasOpenSessions reports whether any position anywhere is still open.
// Drives the LP withdrawal-lock policy together with open markets.
func (r *PositionRepository) HasOpenSessions(ctx context.Context) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM positions WHERE session_status = 'open'`)
	if err != nil {
		return false, fmt.Errorf("position_repo.HasOpenSessions: %w", err)
	}
	return count > 0, nil
}

// ArchiveAndClear copies the market's settled outcomes into the settlements
// log and deletes the live position rows, in one transaction. The archive
// rows are computed by the resolution service; this method only persists.
func (r *PositionRepository) ArchiveAndClear(ctx context.Context, marketID uuid.UUID, rows []*domain.Settlement) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("position_repo.ArchiveAndClear begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO settlements
			(id, market_id, address, mode, outcome, result, shares, cost_paid, payout, profit, app_session_id, created_at)
		VALUES
			(:id, :market_id, :address, :mode, :outcome, :result, :shares, :cost_paid, :payout, :profit, :app_session_id, :created_at)`
	for _, row := range rows {
		if _, err = tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("position_repo.ArchiveAndClear insert: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE market_id = $1`, marketID); err != nil {
		return fmt.Errorf("position_repo.ArchiveAndClear delete: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("position_repo.ArchiveAndClear commit: %w", err)
	}
	return nil
}

// GetSettlementsByMarket returns the archived settlement rows for a market.
func (r *PositionRepository) GetSettlementsByMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Settlement, error) {
	var rows []*domain.Settlement
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM settlements WHERE market_id = $1 ORDER BY created_at ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetSettlementsByMarket: %w", err)
	}
	return rows, nil
}

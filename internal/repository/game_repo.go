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

// GameRepository handles database operations for games, the seeded reference
// data (sports, categories, teams), and the singleton game-state row.
type GameRepository struct {
	db *sqlx.DB
}

// NewGameRepository creates a new GameRepository.
func NewGameRepository(db *sqlx.DB) *GameRepository {
	return &GameRepository{db: db}
}

// ── Games ─────────────────────────────────────────────────────────────────────

// CreateGame inserts a new game row.
func (r *GameRepository) CreateGame(ctx context.Context, g *domain.Game) error {
	query := `
		INSERT INTO games (id, sport_id, home_team_id, away_team_id, status, created_at, updated_at)
		VALUES (:id, :sport_id, :home_team_id, :away_team_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, g); err != nil {
		return fmt.Errorf("game_repo.CreateGame: %w", err)
	}
	return nil
}

// GetGameByID fetches a game by primary key.
func (r *GameRepository) GetGameByID(ctx context.Context, id uuid.UUID) (*domain.Game, error) {
	var g domain.Game
	err := r.db.GetContext(ctx, &g, `SELECT * FROM games WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("game_repo.GetGameByID: %w", err)
	}
	return &g, nil
}

// UpdateGameStatus performs a guarded SCHEDULED → ACTIVE → COMPLETED move.
func (r *GameRepository) UpdateGameStatus(ctx context.Context, id uuid.UUID, from, to domain.GameStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE games SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("game_repo.UpdateGameStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetGameByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrGameNotActive
	}
	return nil
}

// ListGames returns games newest first, optionally filtered by status.
func (r *GameRepository) ListGames(ctx context.Context, status string, limit int) ([]*domain.Game, error) {
	var games []*domain.Game
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &games,
			`SELECT * FROM games WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			status, limit)
	} else {
		err = r.db.SelectContext(ctx, &games,
			`SELECT * FROM games ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("game_repo.ListGames: %w", err)
	}
	return games, nil
}

// ── Reference data ────────────────────────────────────────────────────────────

// GetSport fetches a sport by id.
func (r *GameRepository) GetSport(ctx context.Context, id string) (*domain.Sport, error) {
	var s domain.Sport
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sports WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSportNotFound
		}
		return nil, fmt.Errorf("game_repo.GetSport: %w", err)
	}
	return &s, nil
}

// ListSports returns every seeded sport.
func (r *GameRepository) ListSports(ctx context.Context) ([]*domain.Sport, error) {
	var sports []*domain.Sport
	err := r.db.SelectContext(ctx, &sports, `SELECT * FROM sports ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("game_repo.ListSports: %w", err)
	}
	return sports, nil
}

// GetCategory fetches a market category with its ordered outcome labels.
func (r *GameRepository) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := r.db.GetContext(ctx, &c, `SELECT * FROM market_categories WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("game_repo.GetCategory: %w", err)
	}
	return &c, nil
}

// ListCategories returns every category under a sport ("" = all sports).
func (r *GameRepository) ListCategories(ctx context.Context, sportID string) ([]*domain.Category, error) {
	var cats []*domain.Category
	var err error
	if sportID != "" {
		err = r.db.SelectContext(ctx, &cats,
			`SELECT * FROM market_categories WHERE sport_id = $1 ORDER BY id ASC`, sportID)
	} else {
		err = r.db.SelectContext(ctx, &cats, `SELECT * FROM market_categories ORDER BY id ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("game_repo.ListCategories: %w", err)
	}
	return cats, nil
}

// GetTeam fetches a team and verifies it belongs to the given sport.
func (r *GameRepository) GetTeam(ctx context.Context, sportID, teamID string) (*domain.Team, error) {
	var t domain.Team
	err := r.db.GetContext(ctx, &t,
		`SELECT * FROM teams WHERE id = $1 AND sport_id = $2`, teamID, sportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTeamNotFound
		}
		return nil, fmt.Errorf("game_repo.GetTeam: %w", err)
	}
	return &t, nil
}

// ListTeams returns every team under a sport ("" = all sports).
func (r *GameRepository) ListTeams(ctx context.Context, sportID string) ([]*domain.Team, error) {
	var teams []*domain.Team
	var err error
	if sportID != "" {
		err = r.db.SelectContext(ctx, &teams,
			`SELECT * FROM teams WHERE sport_id = $1 ORDER BY id ASC`, sportID)
	} else {
		err = r.db.SelectContext(ctx, &teams, `SELECT * FROM teams ORDER BY id ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("game_repo.ListTeams: %w", err)
	}
	return teams, nil
}

// UpsertSport inserts or refreshes a seeded sport.
func (r *GameRepository) UpsertSport(ctx context.Context, s *domain.Sport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sports (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		s.ID, s.Name)
	if err != nil {
		return fmt.Errorf("game_repo.UpsertSport: %w", err)
	}
	return nil
}

// UpsertCategory inserts or refreshes a seeded market category.
func (r *GameRepository) UpsertCategory(ctx context.Context, c *domain.Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_categories (id, sport_id, outcomes, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET sport_id = EXCLUDED.sport_id, outcomes = EXCLUDED.outcomes, description = EXCLUDED.description`,
		c.ID, c.SportID, c.Outcomes, c.Description)
	if err != nil {
		return fmt.Errorf("game_repo.UpsertCategory: %w", err)
	}
	return nil
}

// UpsertTeam inserts or refreshes a seeded team.
func (r *GameRepository) UpsertTeam(ctx context.Context, t *domain.Team) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teams (id, sport_id, code, name) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET sport_id = EXCLUDED.sport_id, code = EXCLUDED.code, name = EXCLUDED.name`,
		t.ID, t.SportID, t.Code, t.Name)
	if err != nil {
		return fmt.Errorf("game_repo.UpsertTeam: %w", err)
	}
	return nil
}

// ── Game state (kill switch) ──────────────────────────────────────────────────

// GetGameState reads the singleton kill-switch row.
func (r *GameRepository) GetGameState(ctx context.Context) (*domain.GameState, error) {
	var gs domain.GameState
	err := r.db.GetContext(ctx, &gs, `SELECT active, updated_at FROM game_state WHERE id = 1`)
	if err != nil {
		return nil, fmt.Errorf("game_repo.GetGameState: %w", err)
	}
	return &gs, nil
}

// SetGameActive flips the singleton kill-switch row.
func (r *GameRepository) SetGameActive(ctx context.Context, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE game_state SET active = $1, updated_at = now() WHERE id = 1`, active)
	if err != nil {
		return fmt.Errorf("game_repo.SetGameActive: %w", err)
	}
	return nil
}

// ── Admin reset ───────────────────────────────────────────────────────────────

// TruncateData clears all mutable tables (markets, positions, orders, fills,
// LP accounting, settlements, games) and re-arms the kill switch. Seeded
// reference data survives; the caller re-seeds defaults afterwards.
func (r *GameRepository) TruncateData(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		TRUNCATE TABLE p2p_fills, p2p_orders, positions, settlements,
		               lp_events, lp_shares, markets, games`)
	if err != nil {
		return fmt.Errorf("game_repo.TruncateData: %w", err)
	}
	if _, err = r.db.ExecContext(ctx,
		`UPDATE game_state SET active = TRUE, updated_at = now() WHERE id = 1`); err != nil {
		return fmt.Errorf("game_repo.TruncateData state: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// GameService owns the oracle surface: the global kill-switch and the game
// lifecycle (SCHEDULED → ACTIVE → COMPLETED).
type GameService struct {
	gameRepo    *repository.GameRepository
	broadcaster Broadcaster
}

// NewGameService creates a GameService.
func NewGameService(gameRepo *repository.GameRepository, broadcaster Broadcaster) *GameService {
	return &GameService{gameRepo: gameRepo, broadcaster: broadcaster}
}

// ──────────────────────────────────────────────────────────────────────────────
// Kill-switch
// ──────────────────────────────────────────────────────────────────────────────

// SetGameActive flips the global kill-switch. While false no market may be
// created or opened anywhere on the hub.
func (s *GameService) SetGameActive(ctx context.Context, active bool) error {
	if err := s.gameRepo.SetGameActive(ctx, active); err != nil {
		return fmt.Errorf("game_service.SetGameActive: %w", err)
	}
	s.broadcaster.Broadcast(ws.MsgGameState, ws.GameStateData{Active: active})
	return nil
}

// IsGameActive reads the kill-switch.
func (s *GameService) IsGameActive(ctx context.Context) (bool, error) {
	state, err := s.gameRepo.GetGameState(ctx)
	if err != nil {
		return false, fmt.Errorf("game_service.IsGameActive: %w", err)
	}
	return state.Active, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Game lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// CreateGame validates that both teams exist and belong to the sport, then
// records the game as SCHEDULED.
func (s *GameService) CreateGame(ctx context.Context, sportID, homeTeamID, awayTeamID string) (*domain.Game, error) {
	if homeTeamID == awayTeamID {
		return nil, fmt.Errorf("game_service.CreateGame: %w", domain.ErrSameTeam)
	}
	if _, err := s.gameRepo.GetSport(ctx, sportID); err != nil {
		return nil, fmt.Errorf("game_service.CreateGame: %w", err)
	}
	if _, err := s.gameRepo.GetTeam(ctx, sportID, homeTeamID); err != nil {
		return nil, fmt.Errorf("game_service.CreateGame: home team: %w", err)
	}
	if _, err := s.gameRepo.GetTeam(ctx, sportID, awayTeamID); err != nil {
		return nil, fmt.Errorf("game_service.CreateGame: away team: %w", err)
	}

	now := time.Now().UTC()
	game := &domain.Game{
		ID:         uuid.New(),
		SportID:    sportID,
		HomeTeamID: homeTeamID,
		AwayTeamID: awayTeamID,
		Status:     domain.GameScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.gameRepo.CreateGame(ctx, game); err != nil {
		return nil, fmt.Errorf("game_service.CreateGame: %w", err)
	}

	s.broadcaster.Broadcast(ws.MsgGameCreated, ws.GameCreatedData{Game: game})
	return game, nil
}

// ActivateGame moves a game from SCHEDULED to ACTIVE.
func (s *GameService) ActivateGame(ctx context.Context, id uuid.UUID) error {
	if err := s.gameRepo.UpdateGameStatus(ctx, id, domain.GameScheduled, domain.GameActive); err != nil {
		return fmt.Errorf("game_service.ActivateGame: %w", err)
	}
	return nil
}

// CompleteGame moves a game from ACTIVE to COMPLETED.
func (s *GameService) CompleteGame(ctx context.Context, id uuid.UUID) error {
	if err := s.gameRepo.UpdateGameStatus(ctx, id, domain.GameActive, domain.GameCompleted); err != nil {
		return fmt.Errorf("game_service.CompleteGame: %w", err)
	}
	return nil
}

// GetGame returns a game by id.
func (s *GameService) GetGame(ctx context.Context, id uuid.UUID) (*domain.Game, error) {
	game, err := s.gameRepo.GetGameByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("game_service.GetGame: %w", err)
	}
	return game, nil
}

// ListGames returns games, optionally filtered by status.
func (s *GameService) ListGames(ctx context.Context, status string, limit int) ([]*domain.Game, error) {
	games, err := s.gameRepo.ListGames(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("game_service.ListGames: %w", err)
	}
	return games, nil
}

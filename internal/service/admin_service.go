package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/ws"
)

// SocketController is the slice of the WS hub the admin service drives: the
// usual fan-out plus the ability to drop every connection on reset.
type SocketController interface {
	Broadcaster
	Clear()
}

// AutoPlay is the control surface of the background game loop. Reset stops
// the loop before wiping the tables and starts a fresh one afterwards.
type AutoPlay interface {
	Start()
	Stop()
}

// Reseeder restores the default sports, teams, and categories after a wipe.
// Implemented by the seed package.
type Reseeder interface {
	EnsureDefaults(ctx context.Context) error
}

// AdminState is the operator's full view of the hub.
type AdminState struct {
	GameActive  bool                   `json:"gameActive"`
	Games       []*domain.Game         `json:"games"`
	Markets     []*domain.Market       `json:"markets"`
	Connections int                    `json:"connections"`
	Config      config.RuntimeSnapshot `json:"config"`
}

// ConfigUpdateRequest carries the runtime settings the admin may change.
// Absent fields keep their current value.
type ConfigUpdateRequest struct {
	TransactionFeePercent *decimal.Decimal `json:"transactionFeePercent"`
	LMSRSensitivityFactor *float64         `json:"lmsrSensitivityFactor"`
}

// AdminService implements the operator endpoints: state inspection, the
// full data reset, and runtime config changes.
type AdminService struct {
	gameRepo   *repository.GameRepository
	marketRepo *repository.MarketRepository
	runtime    *config.Runtime
	hub        SocketController
	autoplay   AutoPlay
	seeder     Reseeder
}

// NewAdminService builds an AdminService. autoplay may be nil when the
// background loop is disabled.
func NewAdminService(
	gameRepo *repository.GameRepository,
	marketRepo *repository.MarketRepository,
	runtime *config.Runtime,
	hub SocketController,
	autoplay AutoPlay,
	seeder Reseeder,
) *AdminService {
	return &AdminService{
		gameRepo:   gameRepo,
		marketRepo: marketRepo,
		runtime:    runtime,
		hub:        hub,
		autoplay:   autoplay,
		seeder:     seeder,
	}
}

// GetState assembles the operator snapshot: recent games and markets, the
// kill-switch, live connection count, and the runtime config.
func (s *AdminService) GetState(ctx context.Context) (*AdminState, error) {
	state, err := s.gameRepo.GetGameState(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin_service.GetState: %w", err)
	}
	games, err := s.gameRepo.ListGames(ctx, "", 50)
	if err != nil {
		return nil, fmt.Errorf("admin_service.GetState: %w", err)
	}
	markets, _, err := s.marketRepo.List(ctx, 100, 0, "")
	if err != nil {
		return nil, fmt.Errorf("admin_service.GetState: %w", err)
	}
	return &AdminState{
		GameActive:  state.Active,
		Games:       games,
		Markets:     markets,
		Connections: s.hub.ConnectionCount(),
		Config:      s.runtime.Snapshot(),
	}, nil
}

// Reset wipes every mutable table, restores the seed data, and drops all
// WS connections so clients reconnect into the clean state. The auto-play
// loop is stopped for the duration so it cannot trade against a half-wiped
// database.
func (s *AdminService) Reset(ctx context.Context) error {
	if s.autoplay != nil {
		s.autoplay.Stop()
	}

	if err := s.gameRepo.TruncateData(ctx); err != nil {
		return fmt.Errorf("admin_service.Reset: %w", err)
	}
	if err := s.seeder.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("admin_service.Reset: %w", err)
	}

	s.hub.Clear()

	if s.autoplay != nil {
		s.autoplay.Start()
	}

	slog.Info("admin reset complete")
	return nil
}

// GetConfig returns the current runtime settings.
func (s *AdminService) GetConfig() config.RuntimeSnapshot {
	return s.runtime.Snapshot()
}

// UpdateConfig applies the provided settings, broadcasts CONFIG_UPDATED,
// and returns the resulting snapshot.
func (s *AdminService) UpdateConfig(req ConfigUpdateRequest) (config.RuntimeSnapshot, error) {
	if req.TransactionFeePercent != nil {
		fee := *req.TransactionFeePercent
		if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
			return config.RuntimeSnapshot{}, fmt.Errorf("admin_service.UpdateConfig: fee percent %s out of range: %w", fee, domain.ErrInvalidAmount)
		}
		s.runtime.SetFeePercent(fee)
	}
	if req.LMSRSensitivityFactor != nil {
		factor := *req.LMSRSensitivityFactor
		if factor <= 0 {
			return config.RuntimeSnapshot{}, fmt.Errorf("admin_service.UpdateConfig: sensitivity factor %v out of range: %w", factor, domain.ErrInvalidAmount)
		}
		s.runtime.SetSensitivity(factor)
	}

	snapshot := s.runtime.Snapshot()
	s.hub.Broadcast(ws.MsgConfigUpdated, snapshot)
	slog.Info("runtime config updated",
		"fee_percent", snapshot.TransactionFeePercent,
		"sensitivity", snapshot.LMSRSensitivityFactor)
	return snapshot, nil
}

// Package scheduler runs the demo auto-play loop: an endless cycle of
// create game → activate → open market → trading window → close → report a
// random outcome. It exists so a hub with no human oracle still produces
// live markets to trade against.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/service"
)

// killSwitchPoll is how often a paused loop re-checks the game state.
const killSwitchPoll = 5 * time.Second

// cyclePause separates the end of one auto-play cycle from the next.
const cyclePause = 3 * time.Second

// Scheduler owns the auto-play goroutine. Start and Stop may be called
// repeatedly (the admin reset stops the loop, wipes the tables, reseeds,
// and starts it again); both are no-ops when already in the target state.
type Scheduler struct {
	games      *service.GameService
	markets    *service.MarketService
	resolution *service.ResolutionService
	gameRepo   *repository.GameRepository
	cfg        *config.Config
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	games *service.GameService,
	markets *service.MarketService,
	resolution *service.ResolutionService,
	gameRepo *repository.GameRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		games:      games,
		markets:    markets,
		resolution: resolution,
		gameRepo:   gameRepo,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the auto-play goroutine. It returns immediately and does
// nothing when auto-play is disabled or the loop is already running.
func (s *Scheduler) Start() {
	if !s.cfg.Market.Autoplay {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.loop(ctx, done)
	s.logger.Info("auto-play started", "interval", s.cfg.Market.AutoplayInterval)
}

// Stop cancels the loop and waits for the current cycle to unwind.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("auto-play stopped")
}

// loop runs cycles until ctx is cancelled. Each cycle recovers its own
// panics so a bad iteration never kills the loop.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(cyclePause):
		}
	}
}

// runCycle plays one full game: pick a matchup, open a market, let it trade
// for the configured window, then close and resolve with a random outcome.
func (s *Scheduler) runCycle(ctx context.Context) {
	defer s.recoverAndLog("runCycle")

	// ── 1. Respect the kill switch. ──
	active, err := s.games.IsGameActive(ctx)
	if err != nil {
		s.logger.Error("autoplay: game state check failed", "err", err)
		s.sleep(ctx, killSwitchPoll)
		return
	}
	if !active {
		s.sleep(ctx, killSwitchPoll)
		return
	}

	// ── 2. Pick a category and two distinct teams of its sport. ──
	category, home, away, err := s.pickMatchup(ctx)
	if err != nil {
		s.logger.Error("autoplay: no playable matchup", "err", err)
		s.sleep(ctx, killSwitchPoll)
		return
	}

	// ── 3. Create and activate the game. ──
	game, err := s.games.CreateGame(ctx, category.SportID, home.ID, away.ID)
	if err != nil {
		s.logger.Error("autoplay: create game failed", "err", err)
		return
	}
	if err := s.games.ActivateGame(ctx, game.ID); err != nil {
		s.logger.Error("autoplay: activate game failed", "game", game.ID, "err", err)
		return
	}

	// ── 4. Open the market. ──
	market, err := s.markets.CreateMarket(ctx, game.ID, category.ID, nil)
	if err != nil {
		s.logger.Error("autoplay: create market failed", "game", game.ID, "err", err)
		return
	}
	if err := s.markets.OpenMarket(ctx, market.ID); err != nil {
		s.logger.Error("autoplay: open market failed", "market", market.ID, "err", err)
		return
	}
	s.logger.Info("autoplay: market open",
		"market", market.ID,
		"category", category.ID,
		"home", home.Code,
		"away", away.Code,
		"window", s.cfg.Market.AutoplayInterval)

	// ── 5. Hold the trading window. ──
	if !s.sleep(ctx, s.cfg.Market.AutoplayInterval) {
		// Shutting down: leave the market open for the restarted loop's
		// operator rather than racing the cancelled context.
		return
	}

	// ── 6. Close, resolve with a random outcome, complete the game. ──
	if err := s.withRetry(ctx, "close market", func() error {
		return s.markets.CloseMarket(ctx, market.ID)
	}); err != nil {
		s.logger.Error("autoplay: close market failed", "market", market.ID, "err", err)
		return
	}

	outcome := category.Outcomes[rand.Intn(len(category.Outcomes))]
	if err := s.withRetry(ctx, "resolve market", func() error {
		_, err := s.resolution.ResolveMarket(ctx, market.ID, outcome)
		return err
	}); err != nil {
		s.logger.Error("autoplay: resolve failed", "market", market.ID, "outcome", outcome, "err", err)
		return
	}

	if err := s.games.CompleteGame(ctx, game.ID); err != nil {
		s.logger.Error("autoplay: complete game failed", "game", game.ID, "err", err)
		return
	}

	s.logger.Info("autoplay: cycle done", "market", market.ID, "outcome", outcome)
}

// pickMatchup chooses a random seeded category and two distinct teams from
// its sport.
func (s *Scheduler) pickMatchup(ctx context.Context) (*domain.Category, *domain.Team, *domain.Team, error) {
	categories, err := s.gameRepo.ListCategories(ctx, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scheduler.pickMatchup: %w", err)
	}
	if len(categories) == 0 {
		return nil, nil, nil, fmt.Errorf("scheduler.pickMatchup: no categories seeded")
	}
	category := categories[rand.Intn(len(categories))]

	teams, err := s.gameRepo.ListTeams(ctx, category.SportID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scheduler.pickMatchup: %w", err)
	}
	if len(teams) < 2 {
		return nil, nil, nil, fmt.Errorf("scheduler.pickMatchup: sport %q has %d teams, need 2", category.SportID, len(teams))
	}

	i := rand.Intn(len(teams))
	j := rand.Intn(len(teams) - 1)
	if j >= i {
		j++
	}
	return category, teams[i], teams[j], nil
}

// withRetry attempts fn up to 3 times with a short pause, mirroring how a
// human oracle would re-submit a flaky close or resolve call.
func (s *Scheduler) withRetry(ctx context.Context, what string, fn func() error) error {
	const maxAttempts = 3
	const retryDelay = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		s.logger.Warn("autoplay: step failed, retrying",
			"step", what, "attempt", attempt, "max", maxAttempts, "err", lastErr)

		if attempt < maxAttempts {
			if !s.sleep(ctx, retryDelay) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// sleep waits for d or until ctx is cancelled; it reports true when the
// full duration elapsed.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// recoverAndLog is deferred inside each cycle to catch unexpected panics,
// log them, and let the loop continue with the next cycle.
func (s *Scheduler) recoverAndLog(where string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in auto-play", "where", where, "panic", r)
	}
}

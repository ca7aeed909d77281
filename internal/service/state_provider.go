package service

import (
	"context"
	"fmt"

	"github.com/pitchside/hub/internal/domain"
	"github.com/pitchside/hub/internal/ws"
)

// StateSyncProvider assembles the STATE_SYNC snapshot pushed to every new WS
// connection. It implements ws.StateProvider; main wires it into the hub
// after the services exist.
type StateSyncProvider struct {
	markets *MarketService
	games   *GameService
	bets    *BetService
	orders  *OrderBookService
	hub     Broadcaster
}

// NewStateSyncProvider builds a StateSyncProvider.
func NewStateSyncProvider(
	markets *MarketService,
	games *GameService,
	bets *BetService,
	orders *OrderBookService,
	hub Broadcaster,
) *StateSyncProvider {
	return &StateSyncProvider{
		markets: markets,
		games:   games,
		bets:    bets,
		orders:  orders,
		hub:     hub,
	}
}

// StateSync builds the snapshot for one connection. Positions and orders are
// scoped to the address; anonymous connections get the public fields only.
// A hub with no live market is a normal state, not an error.
func (p *StateSyncProvider) StateSync(ctx context.Context, address string) (*ws.StateSyncData, error) {
	data := &ws.StateSyncData{
		Positions: []*domain.Position{},
		Orders:    []*domain.Order{},
	}

	market, err := p.markets.GetCurrentMarket(ctx, nil, nil)
	switch {
	case err == nil:
		summary, sErr := p.markets.Summary(ctx, market)
		if sErr != nil {
			return nil, fmt.Errorf("state_provider.StateSync: %w", sErr)
		}
		data.Market = summary
	case !domain.IsNotFound(err):
		return nil, fmt.Errorf("state_provider.StateSync: %w", err)
	}

	active, err := p.games.IsGameActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("state_provider.StateSync: %w", err)
	}
	data.GameActive = active

	games, err := p.games.ListGames(ctx, "", 20)
	if err != nil {
		return nil, fmt.Errorf("state_provider.StateSync: %w", err)
	}
	data.Games = games
	data.ConnectionCount = p.hub.ConnectionCount()

	if address != "" {
		positions, pErr := p.bets.GetOpenPositionsByAddress(ctx, address)
		if pErr != nil {
			return nil, fmt.Errorf("state_provider.StateSync: %w", pErr)
		}
		data.Positions = positions

		orders, oErr := p.orders.GetRestingOrdersByAddress(ctx, address)
		if oErr != nil {
			return nil, fmt.Errorf("state_provider.StateSync: %w", oErr)
		}
		data.Orders = orders
	}

	return data, nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// Funder requests test funds for an address. *clearnode.Faucet implements it.
type Funder interface {
	RequestFunds(ctx context.Context, address string) error
}

// MMInfo is the public view of the market maker's settlement account.
type MMInfo struct {
	Address     string          `json:"address"`
	Balance     decimal.Decimal `json:"balance"`
	IsConnected bool            `json:"isConnected"`
}

// MMService exposes the market maker's settlement identity and the faucet
// used to fund test wallets. The maker itself has no strategy layer: LMSR
// pricing is the book, so the only MM state worth reporting is the broker
// account backing it.
type MMService struct {
	settlement Settlement
	faucet     Funder
}

// NewMMService builds an MMService.
func NewMMService(settlement Settlement, faucet Funder) *MMService {
	return &MMService{settlement: settlement, faucet: faucet}
}

// Info reports the maker's address, broker balance, and connection state.
// When the balance cannot be read the snapshot still carries the identity
// and liveness so dashboards degrade instead of erroring.
func (s *MMService) Info(ctx context.Context) *MMInfo {
	info := &MMInfo{
		Address:     s.settlement.Address(),
		Balance:     decimalZero(),
		IsConnected: s.settlement.IsConnected(),
	}
	balance, err := s.settlement.GetBalance(ctx)
	if err != nil {
		slog.Warn("mm_service.Info: balance fetch failed", "error", err)
		return info
	}
	info.Balance = balance
	return info
}

// Fund asks the faucet to credit an address with test funds.
func (s *MMService) Fund(ctx context.Context, address string) error {
	addr := strings.ToLower(address)
	if err := s.faucet.RequestFunds(ctx, addr); err != nil {
		return fmt.Errorf("mm_service.Fund: %w", err)
	}
	return nil
}

package clearnode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pitchside/hub/internal/domain"
)

// faucetHTTP is shared by all faucet requests. Transient failures (network
// errors, 5xx) are retried with backoff; 4xx responses are final.
var faucetHTTP = resty.New().
	SetTimeout(10 * time.Second).
	SetRetryCount(3).
	SetRetryWaitTime(500 * time.Millisecond).
	SetRetryMaxWaitTime(5 * time.Second).
	AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	}).
	SetHeader("Content-Type", "application/json")

// faucetMu serializes faucet calls. The sandbox faucet misbehaves under
// concurrent requests for the same ledger.
var faucetMu sync.Mutex

// Faucet requests test funds from the sandbox faucet for an address.
type Faucet struct {
	url string
}

// NewFaucet returns a faucet client. URL may be empty, in which case
// RequestFunds fails with ErrFaucetDisabled.
func NewFaucet(url string) *Faucet {
	return &Faucet{url: url}
}

// RequestFunds asks the faucet to credit the address with test funds.
func (f *Faucet) RequestFunds(ctx context.Context, address string) error {
	if f.url == "" {
		return domain.ErrFaucetDisabled
	}

	faucetMu.Lock()
	defer faucetMu.Unlock()

	resp, err := faucetHTTP.R().
		SetContext(ctx).
		SetBody(map[string]string{"userAddress": address}).
		Post(f.url)
	if err != nil {
		return fmt.Errorf("clearnode.RequestFunds: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("clearnode.RequestFunds: status %d: %s", resp.StatusCode(), resp.String())
	}

	slog.Info("faucet funded", "address", address)
	return nil
}

package config

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Runtime holds the settings the admin API may change while the hub is
// serving traffic. Services read through the getters; concurrent reads see a
// consistent pair because every access goes through one RWMutex.
type Runtime struct {
	mu          sync.RWMutex
	feePercent  decimal.Decimal
	sensitivity float64
}

// RuntimeSnapshot is the JSON view used by the admin config endpoint and the
// CONFIG_UPDATED broadcast.
type RuntimeSnapshot struct {
	TransactionFeePercent decimal.Decimal `json:"transactionFeePercent"`
	LMSRSensitivityFactor float64         `json:"lmsrSensitivityFactor"`
}

// NewRuntime seeds the holder from the boot-time configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{
		feePercent:  decimal.NewFromFloat(cfg.Market.TransactionFeePercent),
		sensitivity: cfg.Market.LMSRSensitivity,
	}
}

// FeePercent returns the winner fee in percent (e.g. "2" for 2 %).
func (r *Runtime) FeePercent() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feePercent
}

// SetFeePercent replaces the winner fee percent.
func (r *Runtime) SetFeePercent(p decimal.Decimal) {
	r.mu.Lock()
	r.feePercent = p
	r.mu.Unlock()
}

// Sensitivity returns the pool-value → b scaling factor.
func (r *Runtime) Sensitivity() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensitivity
}

// SetSensitivity replaces the scaling factor.
func (r *Runtime) SetSensitivity(s float64) {
	r.mu.Lock()
	r.sensitivity = s
	r.mu.Unlock()
}

// Snapshot returns both settings under one lock acquisition.
func (r *Runtime) Snapshot() RuntimeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RuntimeSnapshot{
		TransactionFeePercent: r.feePercent,
		LMSRSensitivityFactor: r.sensitivity,
	}
}

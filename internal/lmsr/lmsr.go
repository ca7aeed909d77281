// Package lmsr implements the Logarithmic Market Scoring Rule, the automated
// market maker that prices every hub market.
//
// All functions are pure: they operate on an outcome quantity vector q (one
// non-negative entry per outcome) and a liquidity parameter b > 0, and never
// mutate their inputs. Larger b means deeper liquidity and slower price
// movement; the market maker's worst-case loss is bounded by MaxLoss.
//
// Reference: Robin Hanson, "Logarithmic Market Scoring Rules for Modular
// Combinatorial Information Aggregation", 2003.
package lmsr

import (
	"errors"
	"fmt"
	"math"
)

// DefaultB is the liquidity parameter used when a market is created without
// an explicit override and no pool value is available to scale from.
const DefaultB = 100.0

// ErrPriceInfeasible is returned by SharesForAmount when the requested bet
// size cannot be priced (the closed-form log argument is non-positive or
// overflows). In practice this means the amount is absurdly large relative
// to b.
var ErrPriceInfeasible = errors.New("lmsr: bet amount not priceable at current liquidity")

// Cost evaluates the LMSR cost function C(q, b) = b * ln(Σ exp(q_i / b)).
//
// The sum is computed in max-shifted form (log-sum-exp) so it stays finite
// for q_i / b far beyond the range of math.Exp. b must be > 0 and q must be
// non-empty; both are the caller's responsibility.
func Cost(q []float64, b float64) float64 {
	m := maxScaled(q, b)
	var sum float64
	for _, qi := range q {
		sum += math.Exp(qi/b - m)
	}
	return b * (m + math.Log(sum))
}

// Prices returns the instantaneous price of every outcome,
// p_i = exp(q_i/b) / Σ exp(q_j/b). Each price lies in (0, 1) and the vector
// sums to 1 within floating tolerance. The result is a fresh slice.
func Prices(q []float64, b float64) []float64 {
	m := maxScaled(q, b)
	exps := make([]float64, len(q))
	var sum float64
	for i, qi := range q {
		e := math.Exp(qi/b - m)
		exps[i] = e
		sum += e
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// Price returns the instantaneous price of a single outcome.
func Price(q []float64, b float64, outcome int) float64 {
	return Prices(q, b)[outcome]
}

// SharesForAmount returns the share count s such that buying s shares of the
// given outcome costs exactly amount: C(q + s*e_i, b) - C(q, b) = amount.
//
// Closed form: s = b * ln(exp(a/b) * Σ exp(q_j/b) - Σ_{j≠i} exp(q_j/b)) - q_i,
// evaluated in max-shifted space for stability. A zero amount buys zero
// shares; negative amounts and out-of-range outcomes are rejected.
func SharesForAmount(q []float64, b float64, outcome int, amount float64) (float64, error) {
	if outcome < 0 || outcome >= len(q) {
		return 0, fmt.Errorf("lmsr.SharesForAmount: outcome %d out of range [0,%d)", outcome, len(q))
	}
	if amount < 0 {
		return 0, fmt.Errorf("lmsr.SharesForAmount: negative amount %v", amount)
	}
	if amount == 0 {
		return 0, nil
	}

	// Shifted by m: with E_j = exp(q_j/b - m) and S = Σ E_j, the closed form
	// reduces to s = b*(m + ln(S*(exp(a/b) - 1) + E_i)) - q_i. The inner
	// term is positive for every feasible input, so a non-positive or
	// non-finite value only arises from overflow of exp(a/b).
	m := maxScaled(q, b)
	var sum float64
	for _, qi := range q {
		sum += math.Exp(qi/b - m)
	}
	ei := math.Exp(q[outcome]/b - m)

	inner := sum*math.Expm1(amount/b) + ei
	if inner <= 0 || math.IsInf(inner, 0) || math.IsNaN(inner) {
		return 0, ErrPriceInfeasible
	}

	s := b*(m+math.Log(inner)) - q[outcome]
	if math.IsInf(s, 0) || math.IsNaN(s) {
		return 0, ErrPriceInfeasible
	}
	if s < 0 {
		// Rounding can nudge a vanishingly small purchase below zero.
		s = 0
	}
	return s, nil
}

// Apply returns a fresh quantity vector with s shares added to the given
// outcome. The input slice is not modified.
func Apply(q []float64, outcome int, s float64) []float64 {
	out := make([]float64, len(q))
	copy(out, q)
	out[outcome] += s
	return out
}

// MaxLoss is the market maker's worst-case subsidy for an n-outcome market:
// b * ln(n).
func MaxLoss(b float64, n int) float64 {
	return b * math.Log(float64(n))
}

// maxScaled returns max(q_i / b), the shift used by the log-sum-exp trick.
func maxScaled(q []float64, b float64) float64 {
	m := math.Inf(-1)
	for _, qi := range q {
		if v := qi / b; v > m {
			m = v
		}
	}
	return m
}

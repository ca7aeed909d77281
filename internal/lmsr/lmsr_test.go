package lmsr_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/pitchside/hub/internal/lmsr"
)

// ── Prices ────────────────────────────────────────────────────────────────────

func TestPrices_UniformAtZero(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		q := make([]float64, n)
		p := lmsr.Prices(q, 100)
		want := 1.0 / float64(n)
		for i, pi := range p {
			if math.Abs(pi-want) > 1e-12 {
				t.Errorf("n=%d: price[%d] = %v, want %v", n, i, pi, want)
			}
		}
	}
}

func TestPrices_SumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 2 + rng.Intn(4)
		b := math.Pow(10, float64(rng.Intn(7))) // 1 .. 1e6
		q := make([]float64, n)
		for i := range q {
			// Spread capped so no outcome's weight underflows to exactly 0.
			q[i] = rng.Float64() * math.Min(1e5, 600*b)
		}
		p := lmsr.Prices(q, b)
		var sum float64
		for i, pi := range p {
			if pi <= 0 || pi >= 1 {
				t.Fatalf("trial %d: price[%d] = %v out of (0,1), q=%v b=%v", trial, i, pi, q, b)
			}
			sum += pi
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("trial %d: Σp = %v, want 1 ± 1e-9 (q=%v b=%v)", trial, sum, q, b)
		}
	}
}

// Extreme quantity skew must not overflow: with q/b ratios far beyond the
// range of math.Exp the shifted form still produces finite prices and cost.
func TestPrices_StableUnderExtremeSkew(t *testing.T) {
	q := []float64{1e5, 0}
	b := 1.0

	p := lmsr.Prices(q, b)
	if p[0] < 1-1e-12 || p[0] > 1 {
		t.Errorf("price[0] = %v, want ≈ 1", p[0])
	}
	if p[1] < 0 || p[1] > 1e-12 {
		t.Errorf("price[1] = %v, want vanishing", p[1])
	}

	c := lmsr.Cost(q, b)
	if math.IsInf(c, 0) || math.IsNaN(c) {
		t.Fatalf("Cost = %v, want finite", c)
	}
	// C ≈ max(q)/b·b = 1e5 plus a vanishing log term.
	if math.Abs(c-1e5) > 1e-6 {
		t.Errorf("Cost = %v, want ≈ 1e5", c)
	}
}

// ── Cost vs naive reference ───────────────────────────────────────────────────

// naiveCost is the textbook, unshifted evaluation. It overflows for large
// q/b, so comparisons keep max(q_i/b) small enough for math.Exp.
func naiveCost(q []float64, b float64) float64 {
	var sum float64
	for _, qi := range q {
		sum += math.Exp(qi / b)
	}
	return b * math.Log(sum)
}

func TestCost_AgreesWithNaiveReference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 500; trial++ {
		n := 2 + rng.Intn(4)
		b := []float64{1, 10, 100, 1e3, 1e4, 1e6}[rng.Intn(6)]
		q := make([]float64, n)
		for i := range q {
			q[i] = rng.Float64() * math.Min(1e5, 500*b) // keep naive finite
		}
		got := lmsr.Cost(q, b)
		want := naiveCost(q, b)
		if math.Abs(got-want) > 1e-9*math.Max(1, math.Abs(want)) {
			t.Errorf("trial %d: Cost = %v, naive = %v (q=%v b=%v)", trial, got, want, q, b)
		}
	}
}

// ── Shares ────────────────────────────────────────────────────────────────────

// A fresh binary market at b=100 quotes 50/50. A $10 buy on outcome 0 must
// return exactly the closed-form share count
//
//	s = 100 · ln(exp(10/100)·2 − 1)
//
// and push price[0] above 0.5.
func TestSharesForAmount_FreshBinaryMarket(t *testing.T) {
	q := []float64{0, 0}
	b := 100.0

	p := lmsr.Prices(q, b)
	if p[0] != 0.5 || p[1] != 0.5 {
		t.Fatalf("fresh prices = %v, want (0.5, 0.5)", p)
	}

	s, err := lmsr.SharesForAmount(q, b, 0, 10)
	if err != nil {
		t.Fatalf("SharesForAmount: %v", err)
	}
	want := 100 * math.Log(2*math.Exp(10.0/100)-1)
	if math.Abs(s-want) > 1e-9*want {
		t.Errorf("shares = %v, want %v", s, want)
	}
	// At even odds $10 buys more than 10 shares but fewer than 20.
	if s <= 10 || s >= 20 {
		t.Errorf("shares = %v, want in (10, 20)", s)
	}

	after := lmsr.Prices(lmsr.Apply(q, 0, s), b)
	if !(after[0] > 0.5 && 0.5 > after[1]) {
		t.Errorf("post-trade prices = %v, want price[0] > 0.5 > price[1]", after)
	}
}

// The cost of the returned shares must equal the requested amount:
// C(q + s·e_i, b) − C(q, b) = a. This is the defining property of
// SharesForAmount and the oracle for the closed form.
func TestSharesForAmount_CostRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for trial := 0; trial < 500; trial++ {
		n := 2 + rng.Intn(4)
		b := []float64{10, 100, 1e3, 1e4}[rng.Intn(4)]
		q := make([]float64, n)
		for i := range q {
			q[i] = rng.Float64() * 1e4
		}
		i := rng.Intn(n)
		amount := 0.5 + rng.Float64()*5000

		s, err := lmsr.SharesForAmount(q, b, i, amount)
		if err != nil {
			t.Fatalf("trial %d: SharesForAmount(q=%v b=%v i=%d a=%v): %v", trial, q, b, i, amount, err)
		}
		cost := lmsr.Cost(lmsr.Apply(q, i, s), b) - lmsr.Cost(q, b)
		if math.Abs(cost-amount) > 1e-9*amount {
			t.Errorf("trial %d: cost of %v shares = %v, want %v (q=%v b=%v i=%d)",
				trial, s, cost, amount, q, b, i)
		}
	}
}

func TestSharesForAmount_ZeroAndInvalid(t *testing.T) {
	q := []float64{5, 3}

	s, err := lmsr.SharesForAmount(q, 100, 0, 0)
	if err != nil || s != 0 {
		t.Errorf("zero amount: got (%v, %v), want (0, nil)", s, err)
	}
	if _, err = lmsr.SharesForAmount(q, 100, 0, -1); err == nil {
		t.Error("negative amount: want error")
	}
	if _, err = lmsr.SharesForAmount(q, 100, 2, 1); err == nil {
		t.Error("outcome out of range: want error")
	}
	if _, err = lmsr.SharesForAmount(q, 100, -1, 1); err == nil {
		t.Error("negative outcome: want error")
	}
}

func TestSharesForAmount_Infeasible(t *testing.T) {
	// amount/b beyond exp range forces the closed form to overflow.
	_, err := lmsr.SharesForAmount([]float64{0, 0}, 1, 0, 1e6)
	if !errors.Is(err, lmsr.ErrPriceInfeasible) {
		t.Errorf("err = %v, want ErrPriceInfeasible", err)
	}
}

// ── Apply / MaxLoss ───────────────────────────────────────────────────────────

func TestApply_DoesNotMutateInput(t *testing.T) {
	q := []float64{1, 2, 3}
	out := lmsr.Apply(q, 1, 10)

	if q[1] != 2 {
		t.Errorf("input mutated: q = %v", q)
	}
	if out[1] != 12 || out[0] != 1 || out[2] != 3 {
		t.Errorf("Apply = %v, want [1 12 3]", out)
	}
}

func TestMaxLoss_Binary(t *testing.T) {
	got := lmsr.MaxLoss(100, 2)
	want := 100 * math.Ln2
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("MaxLoss(100, 2) = %v, want %v", got, want)
	}
}

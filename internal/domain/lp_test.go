package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

func TestSharePrice(t *testing.T) {
	tests := []struct {
		name        string
		poolValue   string
		totalShares string
		want        string
	}{
		{"empty pool", "0", "0", "1"},
		{"pool with no shares", "750", "0", "1"},
		{"unpriced pool", "0", "100", "1"},
		{"par", "1000", "1000", "1"},
		{"pool grew", "1500", "1000", "1.5"},
		{"pool shrank", "800", "1000", "0.8"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.SharePrice(
				decimal.RequireFromString(tc.poolValue),
				decimal.RequireFromString(tc.totalShares),
			)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Errorf("SharePrice(%s, %s) = %s, want %s", tc.poolValue, tc.totalShares, got, tc.want)
			}
		})
	}
}

// A later depositor pays the appreciated price: after the first LP puts in
// 1000 at par and the pool grows to 1500, a 500 deposit mints only ~333.33
// shares, keeping both holdings worth exactly what they paid in.
func TestSharePrice_DilutionScenario(t *testing.T) {
	pool := decimal.NewFromInt(1000)
	shares := decimal.NewFromInt(1000) // first deposit at price 1

	pool = decimal.NewFromInt(1500) // trading profits accrue to the pool

	price := domain.SharePrice(pool, shares)
	if !price.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("grown share price = %s, want 1.5", price)
	}

	deposit := decimal.NewFromInt(500)
	minted := deposit.Div(price)
	if !minted.Round(2).Equal(decimal.RequireFromString("333.33")) {
		t.Errorf("minted shares = %s, want ≈333.33", minted)
	}

	// Second LP's stake is worth the deposit at the post-deposit price.
	pool = pool.Add(deposit)
	shares = shares.Add(minted)
	price = domain.SharePrice(pool, shares)
	value := minted.Mul(price)
	if !value.Round(6).Equal(deposit.Round(6)) {
		t.Errorf("second LP holding worth %s, want %s", value, deposit)
	}
}

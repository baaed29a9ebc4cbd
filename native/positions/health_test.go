package positions

import (
	"math/big"
	"testing"
)

func weiAmount(whole int64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(big.NewInt(whole), scale)
}

func usdPrice(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(100_000_000))
}

func TestHealthFactorZeroDebtSentinel(t *testing.T) {
	snap := HealthSnapshot{
		Collaterals: []HealthCollateral{{
			Amount:   weiAmount(1, 18),
			Decimals: 18,
			PriceUSD: usdPrice(2000),
		}},
		Debt:         big.NewInt(0),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	if hf.Cmp(big.NewRat(HealthFactorInfinite, 1)) != 0 {
		t.Fatalf("expected sentinel 999, got %s", hf.FloatString(2))
	}
}

func TestHealthFactorZeroCollateral(t *testing.T) {
	snap := HealthSnapshot{
		Debt:         weiAmount(1000, 6),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	if hf.Sign() != 0 {
		t.Fatalf("expected zero health factor, got %s", hf.FloatString(4))
	}
	if Grade(hf) != SeverityDanger {
		t.Fatalf("expected danger tier, got %s", Grade(hf))
	}
}

func TestHealthFactorWeightedRatio(t *testing.T) {
	snap := HealthSnapshot{
		Collaterals: []HealthCollateral{{
			Amount:                  weiAmount(1, 18),
			Decimals:                18,
			PriceUSD:                usdPrice(2000),
			LiquidationThresholdBps: 8000,
		}},
		Debt:         weiAmount(1000, 6),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	// 2000 * 0.80 / 1000 = 1.6
	if hf.Cmp(big.NewRat(16, 10)) != 0 {
		t.Fatalf("expected 1.6, got %s", hf.FloatString(4))
	}
	if Grade(hf) != SeverityCaution {
		t.Fatalf("expected caution tier, got %s", Grade(hf))
	}
}

func TestHealthFactorDefaultThresholdFallback(t *testing.T) {
	snap := HealthSnapshot{
		Collaterals: []HealthCollateral{{
			Amount:   weiAmount(1, 18),
			Decimals: 18,
			PriceUSD: usdPrice(2000),
		}},
		Debt:         weiAmount(1000, 6),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	// 2000 * 0.8273 / 1000 = 1.6546
	if hf.Cmp(big.NewRat(16546, 10000)) != 0 {
		t.Fatalf("expected 1.6546, got %s", hf.FloatString(4))
	}
}

func TestHealthFactorSubtractsMovedAmounts(t *testing.T) {
	snap := HealthSnapshot{
		Collaterals: []HealthCollateral{{
			Amount:                  weiAmount(2, 18),
			MovedAmount:             weiAmount(1, 18),
			Decimals:                18,
			PriceUSD:                usdPrice(2000),
			LiquidationThresholdBps: 8000,
		}},
		Debt:         weiAmount(1000, 6),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	if hf.Cmp(big.NewRat(16, 10)) != 0 {
		t.Fatalf("expected 1.6 after moving half, got %s", hf.FloatString(4))
	}
}

func TestHealthFactorFullyRepaidDebtSentinel(t *testing.T) {
	snap := HealthSnapshot{
		Collaterals: []HealthCollateral{{
			Amount:   weiAmount(1, 18),
			Decimals: 18,
			PriceUSD: usdPrice(2000),
		}},
		Debt:         weiAmount(1000, 6),
		DebtMoved:    weiAmount(1000, 6),
		DebtDecimals: 6,
		DebtPriceUSD: usdPrice(1),
	}
	hf := HealthFactor(snap, DefaultRiskParams())
	if hf.Cmp(big.NewRat(HealthFactorInfinite, 1)) != 0 {
		t.Fatalf("expected sentinel when debt fully moved, got %s", hf.FloatString(2))
	}
}

func TestGradeTiers(t *testing.T) {
	cases := []struct {
		hf   *big.Rat
		want Severity
	}{
		{big.NewRat(3, 1), SeveritySafe},
		{big.NewRat(2, 1), SeveritySafe},
		{big.NewRat(17, 10), SeverityCaution},
		{big.NewRat(12, 10), SeverityRisk},
		{big.NewRat(1, 1), SeverityDanger},
		{nil, SeverityDanger},
	}
	for _, tc := range cases {
		if got := Grade(tc.hf); got != tc.want {
			t.Fatalf("grade(%v): expected %s, got %s", tc.hf, tc.want, got)
		}
	}
}

package positions

import "math/big"

// HealthCollateral is one collateral entry in a health snapshot. MovedAmount
// is the raw amount the user has selected to move away; the calculator only
// counts what remains.
type HealthCollateral struct {
	Amount                  *big.Int
	MovedAmount             *big.Int
	Decimals                uint8
	PriceUSD                *big.Int
	LiquidationThresholdBps uint64
}

// HealthSnapshot is the explicit input set for a health-factor calculation:
// prices, balances and the current selection, captured at one instant. The
// calculation is a pure function of the snapshot so concurrent reads can
// settle in any order and simply trigger a recompute.
type HealthSnapshot struct {
	Collaterals []HealthCollateral
	Debt        *big.Int
	DebtMoved   *big.Int
	DebtDecimals uint8
	DebtPriceUSD *big.Int
}

// HealthFactor computes the weighted collateral-to-debt ratio
//
//	HF = sum(collateral_usd_remaining * threshold) / debt_usd_remaining
//
// with thresholds in basis points, falling back to params' default when an
// entry reports none. Zero or negative remaining debt yields the 999
// sentinel, never a division by zero.
func HealthFactor(snap HealthSnapshot, params RiskParams) *big.Rat {
	params = params.Normalise()

	debtRemaining := remaining(snap.Debt, snap.DebtMoved)
	debtUSD := USDValue(debtRemaining, snap.DebtDecimals, snap.DebtPriceUSD)
	if debtUSD.Sign() <= 0 {
		return big.NewRat(HealthFactorInfinite, 1)
	}

	weighted := new(big.Int)
	for _, col := range snap.Collaterals {
		amount := remaining(col.Amount, col.MovedAmount)
		usd := USDValue(amount, col.Decimals, col.PriceUSD)
		if usd.Sign() <= 0 {
			continue
		}
		threshold := col.LiquidationThresholdBps
		if threshold == 0 {
			threshold = params.DefaultLiquidationThresholdBps
		}
		usd.Mul(usd, new(big.Int).SetUint64(threshold))
		weighted.Add(weighted, usd)
	}

	denominator := new(big.Int).Mul(debtUSD, basisPoints)
	if denominator.Sign() <= 0 {
		return big.NewRat(HealthFactorInfinite, 1)
	}
	return new(big.Rat).SetFrac(weighted, denominator)
}

func remaining(amount, moved *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Set(amount)
	if moved != nil && moved.Sign() > 0 {
		out.Sub(out, moved)
	}
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

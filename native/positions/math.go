package positions

import (
	"math/big"
	"strings"
)

var (
	basisPoints = big.NewInt(10_000)
	// priceScale is the fixed-point denominator shared with on-chain price
	// oracles: USD prices are integers scaled by 1e8.
	priceScale = big.NewInt(100_000_000)
)

// PriceScale returns the USD fixed-point denominator (1e8).
func PriceScale() *big.Int {
	return new(big.Int).Set(priceScale)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// USDValue converts a raw token amount into 1e8-scaled USD: the amount is
// scaled down by the token decimals and the 1e8 price scale cancels against
// the fixed-point price, leaving a 1e8-scaled result.
func USDValue(amount *big.Int, decimals uint8, priceUSD *big.Int) *big.Int {
	if amount == nil || priceUSD == nil || amount.Sign() <= 0 || priceUSD.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, priceUSD)
	return value.Quo(value, pow10(decimals))
}

// ApplyBps grows amount by the given basis points, rounding down.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	grown := new(big.Int).Mul(amount, new(big.Int).SetUint64(10_000+bps))
	return grown.Quo(grown, basisPoints)
}

// ParseDecimalAmount converts free-form decimal text into raw token units.
// Invalid or negative input yields zero rather than an error; excess fraction
// digits beyond the token decimals are truncated.
func ParseDecimalAmount(text string, decimals uint8) *big.Int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return big.NewInt(0)
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	}
	digits := whole + frac
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok || value.Sign() < 0 {
		return big.NewInt(0)
	}
	padding := int(decimals) - len(frac)
	if padding > 0 {
		value.Mul(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(padding)), nil))
	}
	return value
}

// FormatAmount renders raw token units as a decimal string with trailing
// zeros trimmed. The output round-trips through ParseDecimalAmount.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil || amount.Sign() <= 0 {
		return "0"
	}
	scale := pow10(decimals)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(amount, scale, frac)
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := frac.String()
	if pad := int(decimals) - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}

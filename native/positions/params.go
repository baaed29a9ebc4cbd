package positions

import "math/big"

const (
	// DefaultLiquidationThresholdBps is applied when a protocol does not
	// report a per-asset threshold. Kept configurable rather than inferred
	// per asset; governance can override it via RiskParams.
	DefaultLiquidationThresholdBps uint64 = 8273

	// FlashLoanPremiumBps pads the flash-loan repayment for the provider
	// premium when unlocking debt.
	FlashLoanPremiumBps uint64 = 9

	// FlashLoanSlippageBps pads the unlock amount against price movement
	// between quoting and execution.
	FlashLoanSlippageBps uint64 = 10

	// ReborrowBufferBps is the extra borrow taken on the destination so the
	// flash loan can be repaid even after slippage.
	ReborrowBufferBps uint64 = 5
)

// HealthFactorInfinite is the sentinel reported when a position carries no
// debt. 999 stands in for "safe/infinite" so callers never see a division by
// zero or an unbounded ratio.
const HealthFactorInfinite = 999

// RiskParams groups the tunable safety constants used by the health-factor
// calculator and the plan builder.
type RiskParams struct {
	DefaultLiquidationThresholdBps uint64
	FlashLoanPremiumBps            uint64
	FlashLoanSlippageBps           uint64
	ReborrowBufferBps              uint64
}

// DefaultRiskParams returns the production defaults.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		DefaultLiquidationThresholdBps: DefaultLiquidationThresholdBps,
		FlashLoanPremiumBps:            FlashLoanPremiumBps,
		FlashLoanSlippageBps:           FlashLoanSlippageBps,
		ReborrowBufferBps:              ReborrowBufferBps,
	}
}

// Normalise fills zero fields with the production defaults.
func (p RiskParams) Normalise() RiskParams {
	out := p
	if out.DefaultLiquidationThresholdBps == 0 {
		out.DefaultLiquidationThresholdBps = DefaultLiquidationThresholdBps
	}
	if out.FlashLoanPremiumBps == 0 {
		out.FlashLoanPremiumBps = FlashLoanPremiumBps
	}
	if out.FlashLoanSlippageBps == 0 {
		out.FlashLoanSlippageBps = FlashLoanSlippageBps
	}
	if out.ReborrowBufferBps == 0 {
		out.ReborrowBufferBps = ReborrowBufferBps
	}
	return out
}

// Severity buckets a health factor into the tier driving UI tone. The tiers
// carry no business logic; plan building never branches on them.
type Severity uint8

const (
	SeverityDanger Severity = iota
	SeverityRisk
	SeverityCaution
	SeveritySafe
)

// String renders the severity tier name.
func (s Severity) String() string {
	switch s {
	case SeveritySafe:
		return "safe"
	case SeverityCaution:
		return "caution"
	case SeverityRisk:
		return "risk"
	default:
		return "danger"
	}
}

var (
	severitySafe    = big.NewRat(2, 1)
	severityCaution = big.NewRat(3, 2)
	severityRisk    = big.NewRat(11, 10)
)

// Grade maps a health factor to its severity tier: >=2.0 safe, >=1.5 caution,
// >=1.1 risk, otherwise danger.
func Grade(hf *big.Rat) Severity {
	if hf == nil {
		return SeverityDanger
	}
	switch {
	case hf.Cmp(severitySafe) >= 0:
		return SeveritySafe
	case hf.Cmp(severityCaution) >= 0:
		return SeverityCaution
	case hf.Cmp(severityRisk) >= 0:
		return SeverityRisk
	default:
		return SeverityDanger
	}
}

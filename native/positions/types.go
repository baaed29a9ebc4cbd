package positions

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies a lending protocol a position can live on. The numeric
// values double as the enum encoded into router calldata, so they must stay
// stable across releases.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolAaveV3
	ProtocolCompoundV3
	ProtocolVenus
	ProtocolVesu
)

// String renders the canonical lowercase protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolAaveV3:
		return "aave-v3"
	case ProtocolCompoundV3:
		return "compound-v3"
	case ProtocolVenus:
		return "venus"
	case ProtocolVesu:
		return "vesu"
	default:
		return "unknown"
	}
}

// ParseProtocol resolves a protocol identifier from its canonical name.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aave-v3", "aave":
		return ProtocolAaveV3, nil
	case "compound-v3", "compound":
		return ProtocolCompoundV3, nil
	case "venus":
		return ProtocolVenus, nil
	case "vesu":
		return ProtocolVesu, nil
	default:
		return ProtocolUnknown, fmt.Errorf("positions: unknown protocol %q", name)
	}
}

// MarketKeyed reports whether the protocol addresses positions by market
// contract rather than a flat token list. Market-keyed protocols require the
// market address to travel with a move plan as out-of-band context.
func (p Protocol) MarketKeyed() bool {
	return p == ProtocolCompoundV3
}

// PositionType distinguishes supplied liquidity from borrowed debt.
type PositionType uint8

const (
	PositionSupply PositionType = iota
	PositionBorrow
)

// String renders the position type for API payloads.
func (t PositionType) String() string {
	if t == PositionBorrow {
		return "borrow"
	}
	return "supply"
}

// ParsePositionType resolves a position type from its canonical name.
func ParsePositionType(name string) (PositionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "supply":
		return PositionSupply, nil
	case "borrow":
		return PositionBorrow, nil
	default:
		return PositionSupply, fmt.Errorf("positions: unknown position type %q", name)
	}
}

// Position is a single supply or borrow balance on a protocol. Balances are
// raw token units and prices are USD fixed-point integers scaled by 1e8 to
// match on-chain oracle precision. Positions are read fresh on demand and
// never persisted.
type Position struct {
	Name     string
	Type     PositionType
	Protocol Protocol
	Token    common.Address
	Symbol   string
	Decimals uint8
	Balance  *big.Int
	PriceUSD *big.Int
}

// USDValue returns the position value in 1e8-scaled USD.
func (p Position) USDValue() *big.Int {
	return USDValue(p.Balance, p.Decimals, p.PriceUSD)
}

// CollateralToken is one collateral balance on the source protocol, annotated
// with whether the destination protocol supports it. Supported flips
// reactively when the destination changes; the struct itself is derived per
// request and holds no persistent state.
type CollateralToken struct {
	Symbol     string
	Address    common.Address
	Decimals   uint8
	RawBalance *big.Int
	PriceUSD   *big.Int
	// LiquidationThresholdBps is the per-asset threshold reported by the
	// protocol, or 0 when unavailable (callers fall back to the default).
	LiquidationThresholdBps uint64
	Supported               bool
}

// CollateralWithAmount couples a collateral token with the user-chosen amount
// to move. Amount never exceeds MaxAmount; the invariant is enforced on every
// write. InputValue echoes the text the user typed, except when a clamp or
// MAX selection stamps it from the live balance.
type CollateralWithAmount struct {
	CollateralToken
	Amount     *big.Int
	MaxAmount  *big.Int
	InputValue string
}

// MovingMax reports whether the selected amount equals the live maximum, in
// which case downstream instructions use the withdraw-max sentinel to avoid
// stale-balance rounding.
func (c CollateralWithAmount) MovingMax() bool {
	if c.Amount == nil || c.MaxAmount == nil {
		return false
	}
	return c.MaxAmount.Sign() > 0 && c.Amount.Cmp(c.MaxAmount) == 0
}

// FlashLoanProvider is one entry of the static provider catalog. Enum is the
// value encoded into router calldata.
type FlashLoanProvider struct {
	Name    string
	Version string
	Enum    uint8
}

// Label renders the provider for user-facing messages.
func (f FlashLoanProvider) Label() string {
	return f.Name + " " + f.Version
}

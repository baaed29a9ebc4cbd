package adapters

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/oswy-cpu/kapan/native/positions"
	"github.com/oswy-cpu/kapan/services/positiond/assets"
)

// ContractCaller is the read-only slice of an RPC client the adapters need.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PriceFunc resolves a symbol to a 1e8-scaled USD price. Resolution failures
// surface as errors so callers can decide whether to degrade or abort.
type PriceFunc func(ctx context.Context, symbol string) (*big.Int, error)

// ProtocolAdapter reads one lending protocol's view of a wallet.
type ProtocolAdapter interface {
	Protocol() positions.Protocol
	// Positions lists the wallet's supplies and borrows with live balances.
	Positions(ctx context.Context, wallet common.Address) ([]positions.Position, error)
	// Collaterals lists the wallet's supplied tokens in catalog shape, priced
	// and stamped with the protocol's liquidation thresholds.
	Collaterals(ctx context.Context, wallet common.Address) ([]positions.CollateralToken, error)
}

// Registry aggregates protocol adapters and fans position reads across them.
type Registry struct {
	mu       sync.RWMutex
	adapters map[positions.Protocol]ProtocolAdapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[positions.Protocol]ProtocolAdapter)}
}

// Register installs an adapter, replacing any previous one for the protocol.
func (r *Registry) Register(adapter ProtocolAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapters: nil adapter")
	}
	if adapter.Protocol() == positions.ProtocolUnknown {
		return fmt.Errorf("adapters: adapter must name its protocol")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Protocol()] = adapter
	return nil
}

// Adapter returns the adapter for a protocol.
func (r *Registry) Adapter(protocol positions.Protocol) (ProtocolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[protocol]
	return adapter, ok
}

// Protocols lists the registered protocols in stable order.
func (r *Registry) Protocols() []positions.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]positions.Protocol, 0, len(r.adapters))
	for protocol := range r.adapters {
		out = append(out, protocol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllPositions reads the wallet across every registered protocol. A protocol
// that fails is skipped rather than sinking the whole read; the first error is
// reported alongside the partial result.
func (r *Registry) AllPositions(ctx context.Context, wallet common.Address) ([]positions.Position, error) {
	var (
		out      []positions.Position
		firstErr error
	)
	for _, protocol := range r.Protocols() {
		adapter, _ := r.Adapter(protocol)
		list, err := adapter.Positions(ctx, wallet)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("adapters: %s: %w", protocol, err)
			}
			continue
		}
		out = append(out, list...)
	}
	return out, firstErr
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("adapters: invalid ABI: %v", err))
	}
	return parsed
}

// priceOrZero degrades a failed resolution to zero so balance listings never
// block on a pricing outage.
func priceOrZero(ctx context.Context, price PriceFunc, symbol string) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	value, err := price(ctx, symbol)
	if err != nil || value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}

func collateralFromAsset(asset assets.Asset, balance *big.Int, price *big.Int, thresholdBps uint64) positions.CollateralToken {
	if thresholdBps == 0 {
		thresholdBps = asset.LiquidationThresholdBps
	}
	if thresholdBps == 0 {
		thresholdBps = positions.DefaultLiquidationThresholdBps
	}
	return positions.CollateralToken{
		Symbol:                  asset.Symbol,
		Address:                 common.HexToAddress(asset.Address),
		Decimals:                asset.Decimals,
		RawBalance:              balance,
		PriceUSD:                price,
		LiquidationThresholdBps: thresholdBps,
		Supported:               asset.Supported,
	}
}

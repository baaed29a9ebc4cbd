package adapters

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/oswy-cpu/kapan/native/positions"
	"github.com/oswy-cpu/kapan/services/positiond/assets"
)

// Comet markets are keyed by base asset: debt lives in the base token and
// collateral balances are per-asset within the market.
const cometABI = `[
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"borrowBalanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"address","name":"asset","type":"address"}],"name":"collateralBalanceOf","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

var compoundABI = mustABI(cometABI)

// CompoundMarket is one comet deployment: the market contract plus the symbol
// of its base (borrowable) asset.
type CompoundMarket struct {
	Comet      common.Address
	BaseSymbol string
}

// CompoundAdapter reads Compound V3 positions across its configured markets.
type CompoundAdapter struct {
	caller  ContractCaller
	markets []CompoundMarket
	catalog *assets.Catalog
	price   PriceFunc
}

// NewCompoundAdapter constructs the adapter over the given comet markets.
func NewCompoundAdapter(caller ContractCaller, markets []CompoundMarket, catalog *assets.Catalog, price PriceFunc) (*CompoundAdapter, error) {
	if caller == nil {
		return nil, fmt.Errorf("adapters: compound caller required")
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("adapters: at least one comet market required")
	}
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("adapters: compound asset catalog required")
	}
	for _, market := range markets {
		if _, ok := catalog.BySymbol(market.BaseSymbol); !ok {
			return nil, fmt.Errorf("adapters: comet base %s not in catalog", market.BaseSymbol)
		}
	}
	sorted := append([]CompoundMarket{}, markets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BaseSymbol < sorted[j].BaseSymbol })
	return &CompoundAdapter{caller: caller, markets: sorted, catalog: catalog, price: price}, nil
}

// Protocol implements ProtocolAdapter.
func (c *CompoundAdapter) Protocol() positions.Protocol { return positions.ProtocolCompoundV3 }

// Markets exposes the configured comet deployments; the plan builder uses the
// market address as execution context.
func (c *CompoundAdapter) Markets() []CompoundMarket {
	return append([]CompoundMarket{}, c.markets...)
}

// MarketForBase returns the comet address whose base asset matches the symbol.
func (c *CompoundAdapter) MarketForBase(symbol string) (common.Address, bool) {
	for _, market := range c.markets {
		if market.BaseSymbol == symbol {
			return market.Comet, true
		}
	}
	return common.Address{}, false
}

func (c *CompoundAdapter) callUint(ctx context.Context, comet common.Address, method string, args ...interface{}) (*big.Int, error) {
	input, err := compoundABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &comet, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	results, err := compoundABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%s: unexpected result arity %d", method, len(results))
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type", method)
	}
	return value, nil
}

// Positions implements ProtocolAdapter. Borrows surface per market in the base
// token; collateral supplies surface per asset.
func (c *CompoundAdapter) Positions(ctx context.Context, wallet common.Address) ([]positions.Position, error) {
	var out []positions.Position
	for _, market := range c.markets {
		base, _ := c.catalog.BySymbol(market.BaseSymbol)
		debt, err := c.callUint(ctx, market.Comet, "borrowBalanceOf", wallet)
		if err != nil {
			return nil, fmt.Errorf("compound %s: %w", market.BaseSymbol, err)
		}
		if debt.Sign() > 0 {
			out = append(out, positions.Position{
				Name:     base.Symbol,
				Type:     positions.PositionBorrow,
				Protocol: positions.ProtocolCompoundV3,
				Token:    common.HexToAddress(base.Address),
				Symbol:   base.Symbol,
				Decimals: base.Decimals,
				Balance:  debt,
				PriceUSD: priceOrZero(ctx, c.price, base.Symbol),
			})
		}
		for _, asset := range c.catalog.All() {
			if asset.Symbol == base.Symbol {
				continue
			}
			balance, err := c.callUint(ctx, market.Comet, "collateralBalanceOf", wallet, common.HexToAddress(asset.Address))
			if err != nil {
				return nil, fmt.Errorf("compound %s/%s: %w", market.BaseSymbol, asset.Symbol, err)
			}
			if balance.Sign() == 0 {
				continue
			}
			out = append(out, positions.Position{
				Name:     asset.Symbol,
				Type:     positions.PositionSupply,
				Protocol: positions.ProtocolCompoundV3,
				Token:    common.HexToAddress(asset.Address),
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
				Balance:  balance,
				PriceUSD: priceOrZero(ctx, c.price, asset.Symbol),
			})
		}
	}
	return out, nil
}

// Collaterals implements ProtocolAdapter. Balances aggregate across markets so
// the catalog view matches what the wallet could move.
func (c *CompoundAdapter) Collaterals(ctx context.Context, wallet common.Address) ([]positions.CollateralToken, error) {
	totals := make(map[string]*big.Int)
	for _, market := range c.markets {
		base, _ := c.catalog.BySymbol(market.BaseSymbol)
		for _, asset := range c.catalog.All() {
			if asset.Symbol == base.Symbol {
				continue
			}
			balance, err := c.callUint(ctx, market.Comet, "collateralBalanceOf", wallet, common.HexToAddress(asset.Address))
			if err != nil {
				return nil, fmt.Errorf("compound %s/%s: %w", market.BaseSymbol, asset.Symbol, err)
			}
			if total, ok := totals[asset.Symbol]; ok {
				total.Add(total, balance)
			} else {
				totals[asset.Symbol] = new(big.Int).Set(balance)
			}
		}
	}
	var out []positions.CollateralToken
	for _, asset := range c.catalog.All() {
		total, ok := totals[asset.Symbol]
		if !ok {
			continue
		}
		price := priceOrZero(ctx, c.price, asset.Symbol)
		out = append(out, collateralFromAsset(asset, total, price, 0))
	}
	return out, nil
}

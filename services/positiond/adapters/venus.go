package adapters

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/oswy-cpu/kapan/native/positions"
	"github.com/oswy-cpu/kapan/services/positiond/assets"
)

// vTokens follow the cToken pattern: balances are held in the wrapper and the
// underlying amount is balance * exchangeRateStored / 1e18.
const vTokenABI = `[
  {"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"borrowBalanceStored","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"exchangeRateStored","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var venusABI = mustABI(vTokenABI)

var exchangeRateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// VenusAdapter reads Venus positions through per-asset vToken contracts.
type VenusAdapter struct {
	caller  ContractCaller
	vTokens map[string]common.Address
	catalog *assets.Catalog
	price   PriceFunc
}

// NewVenusAdapter constructs the adapter. vTokens maps underlying symbols to
// their vToken wrapper addresses; catalog entries without a wrapper are
// skipped.
func NewVenusAdapter(caller ContractCaller, vTokens map[string]common.Address, catalog *assets.Catalog, price PriceFunc) (*VenusAdapter, error) {
	if caller == nil {
		return nil, fmt.Errorf("adapters: venus caller required")
	}
	if len(vTokens) == 0 {
		return nil, fmt.Errorf("adapters: at least one vToken mapping required")
	}
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("adapters: venus asset catalog required")
	}
	mapped := make(map[string]common.Address, len(vTokens))
	for symbol, addr := range vTokens {
		asset, ok := catalog.BySymbol(symbol)
		if !ok {
			return nil, fmt.Errorf("adapters: vToken underlying %s not in catalog", symbol)
		}
		mapped[asset.Symbol] = addr
	}
	return &VenusAdapter{caller: caller, vTokens: mapped, catalog: catalog, price: price}, nil
}

// Protocol implements ProtocolAdapter.
func (v *VenusAdapter) Protocol() positions.Protocol { return positions.ProtocolVenus }

func (v *VenusAdapter) callUint(ctx context.Context, vToken common.Address, method string, args ...interface{}) (*big.Int, error) {
	input, err := venusABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &vToken, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	results, err := venusABI.Unpack(method, output)
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

// underlyingBalance converts a vToken balance into underlying units.
func (v *VenusAdapter) underlyingBalance(ctx context.Context, vToken common.Address, wallet common.Address) (*big.Int, error) {
	balance, err := v.callUint(ctx, vToken, "balanceOf", wallet)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	rate, err := v.callUint(ctx, vToken, "exchangeRateStored")
	if err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(balance, rate)
	return product.Quo(product, exchangeRateScale), nil
}

// Positions implements ProtocolAdapter.
func (v *VenusAdapter) Positions(ctx context.Context, wallet common.Address) ([]positions.Position, error) {
	var out []positions.Position
	for _, asset := range v.catalog.All() {
		vToken, ok := v.vTokens[asset.Symbol]
		if !ok {
			continue
		}
		supply, err := v.underlyingBalance(ctx, vToken, wallet)
		if err != nil {
			return nil, fmt.Errorf("venus %s: %w", asset.Symbol, err)
		}
		debt, err := v.callUint(ctx, vToken, "borrowBalanceStored", wallet)
		if err != nil {
			return nil, fmt.Errorf("venus %s: %w", asset.Symbol, err)
		}
		price := priceOrZero(ctx, v.price, asset.Symbol)
		if supply.Sign() > 0 {
			out = append(out, positions.Position{
				Name:     asset.Symbol,
				Type:     positions.PositionSupply,
				Protocol: positions.ProtocolVenus,
				Token:    common.HexToAddress(asset.Address),
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
				Balance:  supply,
				PriceUSD: price,
			})
		}
		if debt.Sign() > 0 {
			out = append(out, positions.Position{
				Name:     asset.Symbol,
				Type:     positions.PositionBorrow,
				Protocol: positions.ProtocolVenus,
				Token:    common.HexToAddress(asset.Address),
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
				Balance:  debt,
				PriceUSD: price,
			})
		}
	}
	return out, nil
}

// Collaterals implements ProtocolAdapter.
func (v *VenusAdapter) Collaterals(ctx context.Context, wallet common.Address) ([]positions.CollateralToken, error) {
	var out []positions.CollateralToken
	for _, asset := range v.catalog.All() {
		vToken, ok := v.vTokens[asset.Symbol]
		if !ok {
			continue
		}
		supply, err := v.underlyingBalance(ctx, vToken, wallet)
		if err != nil {
			return nil, fmt.Errorf("venus %s: %w", asset.Symbol, err)
		}
		price := priceOrZero(ctx, v.price, asset.Symbol)
		out = append(out, collateralFromAsset(asset, supply, price, 0))
	}
	return out, nil
}

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

// The protocol data provider exposes per-asset balances and the reserve
// configuration carrying the live liquidation threshold.
const aaveDataProviderABI = `[
  {"inputs":[{"internalType":"address","name":"asset","type":"address"},{"internalType":"address","name":"user","type":"address"}],"name":"getUserReserveData","outputs":[{"internalType":"uint256","name":"currentATokenBalance","type":"uint256"},{"internalType":"uint256","name":"currentStableDebt","type":"uint256"},{"internalType":"uint256","name":"currentVariableDebt","type":"uint256"},{"internalType":"uint256","name":"principalStableDebt","type":"uint256"},{"internalType":"uint256","name":"scaledVariableDebt","type":"uint256"},{"internalType":"uint256","name":"stableBorrowRate","type":"uint256"},{"internalType":"uint256","name":"liquidityRate","type":"uint256"},{"internalType":"uint40","name":"stableRateLastUpdated","type":"uint40"},{"internalType":"bool","name":"usageAsCollateralEnabled","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getReserveConfigurationData","outputs":[{"internalType":"uint256","name":"decimals","type":"uint256"},{"internalType":"uint256","name":"ltv","type":"uint256"},{"internalType":"uint256","name":"liquidationThreshold","type":"uint256"},{"internalType":"uint256","name":"liquidationBonus","type":"uint256"},{"internalType":"uint256","name":"reserveFactor","type":"uint256"},{"internalType":"bool","name":"usageAsCollateralEnabled","type":"bool"},{"internalType":"bool","name":"borrowingEnabled","type":"bool"},{"internalType":"bool","name":"stableBorrowRateEnabled","type":"bool"},{"internalType":"bool","name":"isActive","type":"bool"},{"internalType":"bool","name":"isFrozen","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var aaveABI = mustABI(aaveDataProviderABI)

// AaveAdapter reads Aave V3 positions through the protocol data provider.
type AaveAdapter struct {
	caller   ContractCaller
	provider common.Address
	catalog  *assets.Catalog
	price    PriceFunc
}

// NewAaveAdapter constructs the adapter. provider is the PoolDataProvider
// contract address for the target deployment.
func NewAaveAdapter(caller ContractCaller, provider common.Address, catalog *assets.Catalog, price PriceFunc) (*AaveAdapter, error) {
	if caller == nil {
		return nil, fmt.Errorf("adapters: aave caller required")
	}
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("adapters: aave asset catalog required")
	}
	return &AaveAdapter{caller: caller, provider: provider, catalog: catalog, price: price}, nil
}

// Protocol implements ProtocolAdapter.
func (a *AaveAdapter) Protocol() positions.Protocol { return positions.ProtocolAaveV3 }

type aaveReserve struct {
	supply *big.Int
	debt   *big.Int
}

func (a *AaveAdapter) userReserve(ctx context.Context, asset, wallet common.Address) (aaveReserve, error) {
	input, err := aaveABI.Pack("getUserReserveData", asset, wallet)
	if err != nil {
		return aaveReserve{}, fmt.Errorf("pack getUserReserveData: %w", err)
	}
	output, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.provider, Data: input}, nil)
	if err != nil {
		return aaveReserve{}, fmt.Errorf("call getUserReserveData: %w", err)
	}
	results, err := aaveABI.Unpack("getUserReserveData", output)
	if err != nil {
		return aaveReserve{}, fmt.Errorf("unpack getUserReserveData: %w", err)
	}
	if len(results) < 3 {
		return aaveReserve{}, fmt.Errorf("short getUserReserveData result")
	}
	supply, ok := results[0].(*big.Int)
	if !ok {
		return aaveReserve{}, fmt.Errorf("unexpected aToken balance type")
	}
	stable, ok := results[1].(*big.Int)
	if !ok {
		return aaveReserve{}, fmt.Errorf("unexpected stable debt type")
	}
	variable, ok := results[2].(*big.Int)
	if !ok {
		return aaveReserve{}, fmt.Errorf("unexpected variable debt type")
	}
	return aaveReserve{supply: supply, debt: new(big.Int).Add(stable, variable)}, nil
}

// liquidationThresholdBps reads the reserve's live threshold; on failure the
// catalog default applies.
func (a *AaveAdapter) liquidationThresholdBps(ctx context.Context, asset common.Address) uint64 {
	input, err := aaveABI.Pack("getReserveConfigurationData", asset)
	if err != nil {
		return 0
	}
	output, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.provider, Data: input}, nil)
	if err != nil {
		return 0
	}
	results, err := aaveABI.Unpack("getReserveConfigurationData", output)
	if err != nil || len(results) < 3 {
		return 0
	}
	threshold, ok := results[2].(*big.Int)
	if !ok || !threshold.IsUint64() || threshold.Uint64() > 10_000 {
		return 0
	}
	return threshold.Uint64()
}

// Positions implements ProtocolAdapter.
func (a *AaveAdapter) Positions(ctx context.Context, wallet common.Address) ([]positions.Position, error) {
	var out []positions.Position
	for _, asset := range a.catalog.All() {
		reserve, err := a.userReserve(ctx, common.HexToAddress(asset.Address), wallet)
		if err != nil {
			return nil, fmt.Errorf("aave %s: %w", asset.Symbol, err)
		}
		price := priceOrZero(ctx, a.price, asset.Symbol)
		if reserve.supply.Sign() > 0 {
			out = append(out, positions.Position{
				Name:     asset.Symbol,
				Type:     positions.PositionSupply,
				Protocol: positions.ProtocolAaveV3,
				Token:    common.HexToAddress(asset.Address),
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
				Balance:  reserve.supply,
				PriceUSD: price,
			})
		}
		if reserve.debt.Sign() > 0 {
			out = append(out, positions.Position{
				Name:     asset.Symbol,
				Type:     positions.PositionBorrow,
				Protocol: positions.ProtocolAaveV3,
				Token:    common.HexToAddress(asset.Address),
				Symbol:   asset.Symbol,
				Decimals: asset.Decimals,
				Balance:  reserve.debt,
				PriceUSD: price,
			})
		}
	}
	return out, nil
}

// Collaterals implements ProtocolAdapter.
func (a *AaveAdapter) Collaterals(ctx context.Context, wallet common.Address) ([]positions.CollateralToken, error) {
	var out []positions.CollateralToken
	for _, asset := range a.catalog.All() {
		addr := common.HexToAddress(asset.Address)
		reserve, err := a.userReserve(ctx, addr, wallet)
		if err != nil {
			return nil, fmt.Errorf("aave %s: %w", asset.Symbol, err)
		}
		price := priceOrZero(ctx, a.price, asset.Symbol)
		threshold := a.liquidationThresholdBps(ctx, addr)
		out = append(out, collateralFromAsset(asset, reserve.supply, price, threshold))
	}
	return out, nil
}

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// priceOracleABI is the Aave-style price oracle surface: getAssetPrice
// returns the asset price as a 1e8 fixed-point integer, so no rescaling is
// needed on this path.
const priceOracleABI = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// ContractCaller is the slice of an RPC client the source needs; satisfied by
// *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainSource reads prices from an on-chain oracle contract. Symbols resolve
// to asset addresses through the configured catalog; unknown symbols fall
// through to the next source in the resolver.
type ChainSource struct {
	caller ContractCaller
	oracle common.Address
	assets map[string]common.Address

	abiOnce sync.Once
	abi     abi.ABI
	abiErr  error
}

// NewChainSource constructs the on-chain price source. assets maps uppercase
// token symbols to their on-chain addresses.
func NewChainSource(caller ContractCaller, oracleAddr common.Address, assets map[string]common.Address) *ChainSource {
	mapped := make(map[string]common.Address, len(assets))
	for symbol, addr := range assets {
		mapped[strings.ToUpper(strings.TrimSpace(symbol))] = addr
	}
	return &ChainSource{caller: caller, oracle: oracleAddr, assets: mapped}
}

// Name implements Source.
func (s *ChainSource) Name() string { return "chain-oracle" }

// Fetch implements Source. Only USD quotes are available on this path; other
// vs currencies defer to the HTTP source.
func (s *ChainSource) Fetch(ctx context.Context, symbol, vs string) (Quote, error) {
	if s == nil || s.caller == nil {
		return Quote{}, fmt.Errorf("chain oracle not configured")
	}
	if vs != "" && !strings.EqualFold(vs, "usd") {
		return Quote{}, fmt.Errorf("chain oracle: only usd quotes supported")
	}
	asset, ok := s.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Quote{}, fmt.Errorf("chain oracle: unmapped asset %s", symbol)
	}

	parsed, err := s.parsedABI()
	if err != nil {
		return Quote{}, err
	}
	input, err := parsed.Pack("getAssetPrice", asset)
	if err != nil {
		return Quote{}, fmt.Errorf("chain oracle: pack: %w", err)
	}
	output, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.oracle, Data: input}, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("chain oracle: call: %w", err)
	}
	results, err := parsed.Unpack("getAssetPrice", output)
	if err != nil {
		return Quote{}, fmt.Errorf("chain oracle: unpack: %w", err)
	}
	if len(results) != 1 {
		return Quote{}, fmt.Errorf("chain oracle: unexpected result arity %d", len(results))
	}
	price, ok := results[0].(*big.Int)
	if !ok || price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("chain oracle: invalid price for %s", symbol)
	}
	return Quote{Price: new(big.Int).Set(price), Source: s.Name(), Timestamp: time.Now().UTC()}, nil
}

func (s *ChainSource) parsedABI() (abi.ABI, error) {
	s.abiOnce.Do(func() {
		s.abi, s.abiErr = abi.JSON(strings.NewReader(priceOracleABI))
	})
	return s.abi, s.abiErr
}

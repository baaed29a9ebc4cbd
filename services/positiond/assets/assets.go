package assets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Asset is one configured token the service knows how to price and move.
type Asset struct {
	Symbol                  string `toml:"Symbol"`
	Address                 string `toml:"Address"`
	Decimals                uint8  `toml:"Decimals"`
	CoinGeckoID             string `toml:"CoinGeckoID"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	Supported               bool   `toml:"Supported"`
}

// Catalog indexes the configured assets by symbol and address.
type Catalog struct {
	assets   []Asset
	bySymbol map[string]int
	byAddr   map[common.Address]int
}

type fileSchema struct {
	Asset []Asset `toml:"asset"`
}

// Load reads and validates the asset catalog from a TOML file.
func Load(path string) (*Catalog, error) {
	var schema fileSchema
	if _, err := toml.DecodeFile(path, &schema); err != nil {
		return nil, fmt.Errorf("assets: decode %s: %w", path, err)
	}
	return NewCatalog(schema.Asset)
}

// NewCatalog validates and indexes the supplied assets.
func NewCatalog(list []Asset) (*Catalog, error) {
	cat := &Catalog{
		assets:   make([]Asset, 0, len(list)),
		bySymbol: make(map[string]int, len(list)),
		byAddr:   make(map[common.Address]int, len(list)),
	}
	for i, asset := range list {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("assets: entry %d missing symbol", i)
		}
		if !common.IsHexAddress(asset.Address) {
			return nil, fmt.Errorf("assets: %s has invalid address %q", symbol, asset.Address)
		}
		if asset.Decimals > 36 {
			return nil, fmt.Errorf("assets: %s decimals %d out of range", symbol, asset.Decimals)
		}
		if asset.LiquidationThresholdBps > 10_000 {
			return nil, fmt.Errorf("assets: %s liquidation threshold %d exceeds 10000 bps", symbol, asset.LiquidationThresholdBps)
		}
		if _, dup := cat.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("assets: duplicate symbol %s", symbol)
		}
		addr := common.HexToAddress(asset.Address)
		if _, dup := cat.byAddr[addr]; dup {
			return nil, fmt.Errorf("assets: duplicate address %s", asset.Address)
		}
		asset.Symbol = symbol
		asset.Address = addr.Hex()
		cat.bySymbol[symbol] = len(cat.assets)
		cat.byAddr[addr] = len(cat.assets)
		cat.assets = append(cat.assets, asset)
	}
	return cat, nil
}

// BySymbol returns the asset for a symbol, case-insensitively.
func (c *Catalog) BySymbol(symbol string) (Asset, bool) {
	if c == nil {
		return Asset{}, false
	}
	idx, ok := c.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Asset{}, false
	}
	return c.assets[idx], true
}

// ByAddress returns the asset for an on-chain address.
func (c *Catalog) ByAddress(addr common.Address) (Asset, bool) {
	if c == nil {
		return Asset{}, false
	}
	idx, ok := c.byAddr[addr]
	if !ok {
		return Asset{}, false
	}
	return c.assets[idx], true
}

// All returns the catalog entries sorted by symbol.
func (c *Catalog) All() []Asset {
	if c == nil {
		return nil
	}
	out := append([]Asset{}, c.assets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Addresses maps symbols onto addresses, the shape the on-chain price source
// takes.
func (c *Catalog) Addresses() map[string]common.Address {
	if c == nil {
		return nil
	}
	out := make(map[string]common.Address, len(c.assets))
	for _, asset := range c.assets {
		out[asset.Symbol] = common.HexToAddress(asset.Address)
	}
	return out
}

// Len reports the number of configured assets.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.assets)
}

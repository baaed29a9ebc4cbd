package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the position service daemon.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	AssetsPath    string        `yaml:"assets"`
	StoragePath   string        `yaml:"storage"`
	Chain         ChainConfig   `yaml:"chain"`
	Oracle        OracleConfig  `yaml:"oracle"`
	Session       SessionConfig `yaml:"session"`
	RateLimit     RateConfig    `yaml:"rate_limit"`
}

// ChainConfig describes the RPC endpoint and the deployed contracts.
type ChainConfig struct {
	RPCURL           string            `yaml:"rpc_url"`
	RouterAddress    string            `yaml:"router"`
	PriceOracle      string            `yaml:"price_oracle"`
	AaveDataProvider string            `yaml:"aave_data_provider"`
	CompoundMarkets  []Comet           `yaml:"compound_markets"`
	VenusVTokens     map[string]string `yaml:"venus_vtokens"`
	FlashWhitelist   []uint8           `yaml:"flash_whitelist"`
	// SenderKey is the hex-encoded private key used to submit router
	// transactions. Leave empty to run read-only: plans still build but the
	// execute endpoint is disabled.
	SenderKey string `yaml:"sender_key"`
}

// Comet is one Compound V3 market deployment.
type Comet struct {
	Address    string `yaml:"address"`
	BaseSymbol string `yaml:"base"`
}

// OracleConfig tunes the price resolution pipeline.
type OracleConfig struct {
	CoinGeckoBase string        `yaml:"coingecko_base"`
	Timeout       time.Duration `yaml:"timeout"`
	SampleTTL     time.Duration `yaml:"sample_ttl"`
}

// SessionConfig holds the wallet-session token settings.
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// RateConfig bounds the public endpoints.
type RateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8881",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8881"
	}
	cfg.AssetsPath = strings.TrimSpace(cfg.AssetsPath)
	cfg.StoragePath = strings.TrimSpace(cfg.StoragePath)
	cfg.Chain.normalize()
	cfg.Oracle.normalize()
	cfg.Session.normalize()
	cfg.RateLimit.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.AssetsPath == "" {
		return fmt.Errorf("assets catalog path required")
	}
	if cfg.StoragePath == "" {
		return fmt.Errorf("storage path required")
	}
	if err := cfg.Chain.validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := cfg.Session.validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (cfg *ChainConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	cfg.RouterAddress = strings.TrimSpace(cfg.RouterAddress)
	cfg.PriceOracle = strings.TrimSpace(cfg.PriceOracle)
	cfg.AaveDataProvider = strings.TrimSpace(cfg.AaveDataProvider)
	cfg.SenderKey = strings.TrimPrefix(strings.TrimSpace(cfg.SenderKey), "0x")
	markets := make([]Comet, 0, len(cfg.CompoundMarkets))
	for _, market := range cfg.CompoundMarkets {
		market.Address = strings.TrimSpace(market.Address)
		market.BaseSymbol = strings.ToUpper(strings.TrimSpace(market.BaseSymbol))
		if market.Address == "" && market.BaseSymbol == "" {
			continue
		}
		markets = append(markets, market)
	}
	cfg.CompoundMarkets = markets
	vTokens := make(map[string]string, len(cfg.VenusVTokens))
	for symbol, addr := range cfg.VenusVTokens {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		addr = strings.TrimSpace(addr)
		if symbol == "" || addr == "" {
			continue
		}
		vTokens[symbol] = addr
	}
	cfg.VenusVTokens = vTokens
	if len(cfg.FlashWhitelist) == 0 {
		cfg.FlashWhitelist = []uint8{0, 1, 2}
	}
}

func (cfg ChainConfig) validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc_url required")
	}
	if !common.IsHexAddress(cfg.RouterAddress) {
		return fmt.Errorf("router address %q invalid", cfg.RouterAddress)
	}
	if cfg.PriceOracle != "" && !common.IsHexAddress(cfg.PriceOracle) {
		return fmt.Errorf("price_oracle address %q invalid", cfg.PriceOracle)
	}
	if cfg.AaveDataProvider != "" && !common.IsHexAddress(cfg.AaveDataProvider) {
		return fmt.Errorf("aave_data_provider address %q invalid", cfg.AaveDataProvider)
	}
	for _, market := range cfg.CompoundMarkets {
		if !common.IsHexAddress(market.Address) {
			return fmt.Errorf("compound market address %q invalid", market.Address)
		}
		if market.BaseSymbol == "" {
			return fmt.Errorf("compound market %s missing base symbol", market.Address)
		}
	}
	for symbol, addr := range cfg.VenusVTokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("venus vtoken %s address %q invalid", symbol, addr)
		}
	}
	for _, enum := range cfg.FlashWhitelist {
		if enum > 2 {
			return fmt.Errorf("flash provider enum %d unknown", enum)
		}
	}
	return nil
}

func (cfg *OracleConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CoinGeckoBase = strings.TrimSpace(cfg.CoinGeckoBase)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SampleTTL <= 0 {
		cfg.SampleTTL = 7 * 24 * time.Hour
	}
}

func (cfg *SessionConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
}

func (cfg SessionConfig) validate() error {
	if cfg.Secret == "" {
		return fmt.Errorf("secret required")
	}
	if len(cfg.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 bytes")
	}
	return nil
}

func (cfg *RateConfig) normalize() {
	if cfg == nil {
		return
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
}

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

const defaultCoinGeckoBase = "https://api.coingecko.com/api/v3"

// Fallback identifiers used when the specific-token lookup fails. ETH-like
// symbols (any suffix "eth": ETH, WETH, wstETH) resolve through ethereum;
// USD-like symbols (containing "usd": USDC, USDT, sUSD) through usd-coin.
const (
	fallbackEthereumID = "ethereum"
	fallbackUSDCoinID  = "usd-coin"
)

var (
	ethLikePattern = regexp.MustCompile(`(?i)eth$`)
	usdLikePattern = regexp.MustCompile(`(?i)usd`)
)

var priceScale = big.NewInt(100_000_000)

// CoinGeckoSource resolves symbols through the public CoinGecko API: a fuzzy
// /search to map the symbol onto a coin identifier, then /simple/price for
// the quote, with a regex-classified fallback when the specific lookup comes
// up empty.
type CoinGeckoSource struct {
	client HTTPDoer
	base   string
}

// NewCoinGeckoSource constructs the source. A nil client falls back to
// http.DefaultClient; an empty base uses the public API.
func NewCoinGeckoSource(client HTTPDoer, base string) *CoinGeckoSource {
	if client == nil {
		client = http.DefaultClient
	}
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		trimmed = defaultCoinGeckoBase
	}
	return &CoinGeckoSource{client: client, base: trimmed}
}

// Name implements Source.
func (s *CoinGeckoSource) Name() string { return "coingecko" }

// Fetch resolves the symbol to a USD price scaled by 1e8. The specific-token
// path runs first; when it fails or returns zero the regex fallback kicks in.
// Only when no path yields a positive price does Fetch return an error.
func (s *CoinGeckoSource) Fetch(ctx context.Context, symbol, vs string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("coingecko source not configured")
	}
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return Quote{}, fmt.Errorf("coingecko: symbol required")
	}
	if strings.TrimSpace(vs) == "" {
		vs = "usd"
	}

	if id, err := s.searchCoinID(ctx, trimmed); err == nil && id != "" {
		if price, err := s.simplePrice(ctx, id, vs); err == nil && price.Sign() > 0 {
			return Quote{Price: price, Source: s.Name(), Timestamp: time.Now().UTC()}, nil
		}
	}

	fallbackID := classifyFallback(trimmed)
	if fallbackID == "" {
		return Quote{}, fmt.Errorf("coingecko: no resolution path for %q", symbol)
	}
	price, err := s.simplePrice(ctx, fallbackID, vs)
	if err != nil {
		return Quote{}, fmt.Errorf("coingecko: fallback %s: %w", fallbackID, err)
	}
	if price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("coingecko: fallback %s returned zero", fallbackID)
	}
	return Quote{Price: price, Source: s.Name() + "-fallback", Timestamp: time.Now().UTC()}, nil
}

func classifyFallback(symbol string) string {
	switch {
	case ethLikePattern.MatchString(symbol):
		return fallbackEthereumID
	case usdLikePattern.MatchString(symbol):
		return fallbackUSDCoinID
	default:
		return ""
	}
}

type searchCoin struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// searchCoinID maps a symbol onto a coin identifier. Exact case-insensitive
// symbol matches are preferred over the fuzzy pool; within either set the
// lowest market-cap rank wins, with null ranks sorting last.
func (s *CoinGeckoSource) searchCoinID(ctx context.Context, symbol string) (string, error) {
	endpoint := s.base + "/search?" + url.Values{"query": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("coingecko search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Coins []searchCoin `json:"coins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("coingecko search: decode: %w", err)
	}
	return pickCoinID(payload.Coins, symbol), nil
}

func pickCoinID(coins []searchCoin, symbol string) string {
	if len(coins) == 0 {
		return ""
	}
	exact := make([]searchCoin, 0, len(coins))
	for _, coin := range coins {
		if strings.EqualFold(strings.TrimSpace(coin.Symbol), symbol) {
			exact = append(exact, coin)
		}
	}
	pool := coins
	if len(exact) > 0 {
		pool = exact
	}
	sorted := append([]searchCoin{}, pool...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].MarketCapRank, sorted[j].MarketCapRank
		switch {
		case ri == nil && rj == nil:
			return false
		case ri == nil:
			return false
		case rj == nil:
			return true
		default:
			return *ri < *rj
		}
	})
	return sorted[0].ID
}

// simplePrice fetches the quoted price for a coin identifier and scales it to
// a 1e8 fixed-point integer.
func (s *CoinGeckoSource) simplePrice(ctx context.Context, id, vs string) (*big.Int, error) {
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", strings.ToLower(vs))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/simple/price?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko price: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("coingecko price: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return nil, fmt.Errorf("coingecko price: missing entry for %s", id)
	}
	raw, ok := entry[strings.ToLower(vs)]
	if !ok {
		return nil, fmt.Errorf("coingecko price: missing %s quote for %s", vs, id)
	}
	return scalePrice(raw.String())
}

// scalePrice converts a decimal price string into a 1e8-scaled integer,
// truncating any precision beyond eight decimals.
func scalePrice(text string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(text))
	if !ok {
		return nil, fmt.Errorf("invalid price %q", text)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative price %q", text)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(priceScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

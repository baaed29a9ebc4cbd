package oracle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func intPtr(v int) *int { return &v }

// geckoFixture serves /search and /simple/price from canned maps.
type geckoFixture struct {
	search map[string][]searchCoin
	prices map[string]string
}

func (f *geckoFixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		coins := f.search[query]
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"coins":[`)
		for i, coin := range coins {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			if coin.MarketCapRank != nil {
				fmt.Fprintf(w, `{"id":%q,"symbol":%q,"market_cap_rank":%d}`, coin.ID, coin.Symbol, *coin.MarketCapRank)
			} else {
				fmt.Fprintf(w, `{"id":%q,"symbol":%q,"market_cap_rank":null}`, coin.ID, coin.Symbol)
			}
		}
		fmt.Fprint(w, `]}`)
	})
	mux.HandleFunc("/simple/price", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("ids")
		price, ok := f.prices[id]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprintf(w, `{%q:{"usd":%s}}`, id, price)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinGeckoPrefersExactSymbolMatch(t *testing.T) {
	fixture := &geckoFixture{
		search: map[string][]searchCoin{
			"WETH": {
				{ID: "weth-wannabe", Symbol: "WETHX", MarketCapRank: intPtr(1)},
				{ID: "weth", Symbol: "WETH", MarketCapRank: intPtr(30)},
			},
		},
		prices: map[string]string{"weth": "2543.17"},
	}
	srv := fixture.server(t)
	source := NewCoinGeckoSource(srv.Client(), srv.URL)

	quote, err := source.Fetch(context.Background(), "WETH", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := big.NewInt(254_317_000_000)
	if quote.Price.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, quote.Price)
	}
	if quote.Source != "coingecko" {
		t.Fatalf("unexpected source label %q", quote.Source)
	}
}

func TestCoinGeckoRankTieBreakNullsLast(t *testing.T) {
	fixture := &geckoFixture{
		search: map[string][]searchCoin{
			"ARB": {
				{ID: "arb-clone", Symbol: "ARB", MarketCapRank: nil},
				{ID: "arbitrum", Symbol: "ARB", MarketCapRank: intPtr(40)},
				{ID: "arb-other", Symbol: "ARB", MarketCapRank: intPtr(900)},
			},
		},
		prices: map[string]string{"arbitrum": "1.05"},
	}
	srv := fixture.server(t)
	source := NewCoinGeckoSource(srv.Client(), srv.URL)

	quote, err := source.Fetch(context.Background(), "ARB", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(105_000_000)) != 0 {
		t.Fatalf("expected arbitrum quote, got %s", quote.Price)
	}
}

func TestCoinGeckoEthLikeFallback(t *testing.T) {
	fixture := &geckoFixture{
		search: map[string][]searchCoin{}, // wstETH resolves nothing
		prices: map[string]string{"ethereum": "2600"},
	}
	srv := fixture.server(t)
	source := NewCoinGeckoSource(srv.Client(), srv.URL)

	quote, err := source.Fetch(context.Background(), "wstETH", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(260_000_000_000)) != 0 {
		t.Fatalf("expected ethereum fallback price, got %s", quote.Price)
	}
	if quote.Source != "coingecko-fallback" {
		t.Fatalf("expected fallback label, got %q", quote.Source)
	}
}

func TestCoinGeckoUSDLikeFallback(t *testing.T) {
	fixture := &geckoFixture{
		search: map[string][]searchCoin{},
		prices: map[string]string{"usd-coin": "0.9998"},
	}
	srv := fixture.server(t)
	source := NewCoinGeckoSource(srv.Client(), srv.URL)

	quote, err := source.Fetch(context.Background(), "sUSD", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(99_980_000)) != 0 {
		t.Fatalf("expected usd-coin fallback price, got %s", quote.Price)
	}
}

func TestCoinGeckoNoFallbackPathFails(t *testing.T) {
	fixture := &geckoFixture{search: map[string][]searchCoin{}, prices: map[string]string{}}
	srv := fixture.server(t)
	source := NewCoinGeckoSource(srv.Client(), srv.URL)

	if _, err := source.Fetch(context.Background(), "DOGE", "usd"); err == nil {
		t.Fatalf("expected failure when neither lookup nor fallback applies")
	}
}

func TestClassifyFallback(t *testing.T) {
	cases := map[string]string{
		"ETH":    fallbackEthereumID,
		"weth":   fallbackEthereumID,
		"wstETH": fallbackEthereumID,
		"USDC":   fallbackUSDCoinID,
		"sUSD":   fallbackUSDCoinID,
		"USDT":   fallbackUSDCoinID,
		"WBTC":   "",
	}
	for symbol, want := range cases {
		if got := classifyFallback(symbol); got != want {
			t.Fatalf("classify %q: expected %q, got %q", symbol, want, got)
		}
	}
}

func TestScalePriceTruncates(t *testing.T) {
	price, err := scalePrice("0.123456789")
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if price.Cmp(big.NewInt(12_345_678)) != 0 {
		t.Fatalf("expected truncation past 1e8, got %s", price)
	}
	if _, err := scalePrice("not-a-number"); err == nil {
		t.Fatalf("expected parse failure")
	}
}

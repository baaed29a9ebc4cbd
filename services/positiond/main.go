package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/oswy-cpu/kapan/observability/logging"
	telemetry "github.com/oswy-cpu/kapan/observability/otel"
	"github.com/oswy-cpu/kapan/services/positiond/adapters"
	"github.com/oswy-cpu/kapan/services/positiond/assets"
	"github.com/oswy-cpu/kapan/services/positiond/config"
	"github.com/oswy-cpu/kapan/services/positiond/executor"
	"github.com/oswy-cpu/kapan/services/positiond/oracle"
	"github.com/oswy-cpu/kapan/services/positiond/server"
	"github.com/oswy-cpu/kapan/services/positiond/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/positiond/config.yaml", "path to positiond configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KAPAN_ENV"))
	slogger := logging.Setup("positiond", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "positiond",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("positiond: load config: %v", err)
	}

	catalog, err := assets.Load(cfg.AssetsPath)
	if err != nil {
		log.Fatalf("positiond: load asset catalog: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.StoragePath)
	if err != nil {
		log.Fatalf("positiond: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("positiond: open storage: %v", err)
	}
	defer store.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(rootCtx, cfg.Chain.RPCURL)
	if err != nil {
		log.Fatalf("positiond: dial chain rpc: %v", err)
	}
	defer client.Close()
	slogger.Info("connected to chain rpc", logging.MaskField("rpc_url", cfg.Chain.RPCURL))

	// Oracle pipeline: the on-chain oracle leads, CoinGecko backstops it.
	var sources []oracle.Source
	if cfg.Chain.PriceOracle != "" {
		oracleAssets := make(map[string]common.Address, catalog.Len())
		for _, asset := range catalog.All() {
			oracleAssets[asset.Symbol] = common.HexToAddress(asset.Address)
		}
		sources = append(sources, oracle.NewChainSource(client, common.HexToAddress(cfg.Chain.PriceOracle), oracleAssets))
	}
	httpClient := &http.Client{Timeout: cfg.Oracle.Timeout}
	sources = append(sources, oracle.NewCoinGeckoSource(httpClient, cfg.Oracle.CoinGeckoBase))
	resolver, err := oracle.NewResolver(sources, store)
	if err != nil {
		log.Fatalf("positiond: price resolver: %v", err)
	}
	priceFn := func(ctx context.Context, symbol string) (*big.Int, error) {
		quote, err := resolver.Resolve(ctx, symbol, "usd")
		if err != nil {
			return nil, err
		}
		return quote.Price, nil
	}

	registry := adapters.NewRegistry()
	if cfg.Chain.AaveDataProvider != "" {
		aave, err := adapters.NewAaveAdapter(client, common.HexToAddress(cfg.Chain.AaveDataProvider), catalog, priceFn)
		if err != nil {
			log.Fatalf("positiond: aave adapter: %v", err)
		}
		if err := registry.Register(aave); err != nil {
			log.Fatalf("positiond: register aave: %v", err)
		}
	}
	var compound *adapters.CompoundAdapter
	if len(cfg.Chain.CompoundMarkets) > 0 {
		markets := make([]adapters.CompoundMarket, 0, len(cfg.Chain.CompoundMarkets))
		for _, market := range cfg.Chain.CompoundMarkets {
			markets = append(markets, adapters.CompoundMarket{
				Comet:      common.HexToAddress(market.Address),
				BaseSymbol: market.BaseSymbol,
			})
		}
		compound, err = adapters.NewCompoundAdapter(client, markets, catalog, priceFn)
		if err != nil {
			log.Fatalf("positiond: compound adapter: %v", err)
		}
		if err := registry.Register(compound); err != nil {
			log.Fatalf("positiond: register compound: %v", err)
		}
	}
	if len(cfg.Chain.VenusVTokens) > 0 {
		vTokens := make(map[string]common.Address, len(cfg.Chain.VenusVTokens))
		for symbol, addr := range cfg.Chain.VenusVTokens {
			vTokens[symbol] = common.HexToAddress(addr)
		}
		venus, err := adapters.NewVenusAdapter(client, vTokens, catalog, priceFn)
		if err != nil {
			log.Fatalf("positiond: venus adapter: %v", err)
		}
		if err := registry.Register(venus); err != nil {
			log.Fatalf("positiond: register venus: %v", err)
		}
	}

	var exec *executor.Executor
	if cfg.Chain.SenderKey != "" {
		key, err := crypto.HexToECDSA(cfg.Chain.SenderKey)
		if err != nil {
			log.Fatalf("positiond: parse sender key: %v", err)
		}
		chainID, err := client.ChainID(rootCtx)
		if err != nil {
			log.Fatalf("positiond: read chain id: %v", err)
		}
		sender, err := executor.NewTxSender(client, key, chainID)
		if err != nil {
			log.Fatalf("positiond: tx sender: %v", err)
		}
		exec, err = executor.New(common.HexToAddress(cfg.Chain.RouterAddress), sender, client)
		if err != nil {
			log.Fatalf("positiond: executor: %v", err)
		}
		slogger.Info("execution enabled", "sender", sender.From().Hex())
	} else {
		log.Printf("positiond: no sender key configured, running read-only")
	}

	sessions, err := server.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		log.Fatalf("positiond: session manager: %v", err)
	}
	limiter := server.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	srv, err := server.New(server.Options{
		Config: server.Config{
			ListenAddress:  cfg.ListenAddress,
			FlashWhitelist: cfg.Chain.FlashWhitelist,
		},
		Logger:   log.Default(),
		Storage:  store,
		Resolver: resolver,
		Registry: registry,
		Executor: exec,
		Compound: compound,
		Catalog:  catalog,
		Sessions: sessions,
		Limiter:  limiter,
	})
	if err != nil {
		log.Fatalf("positiond: server: %v", err)
	}

	go prunePriceSamples(rootCtx, store, cfg.Oracle.SampleTTL)

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("positiond: http server error: %v", err)
		os.Exit(1)
	}
}

// prunePriceSamples drops audit samples older than the TTL once an hour.
func prunePriceSamples(ctx context.Context, store *storage.Storage, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.PrunePriceSamples(ctx, time.Now().Add(-ttl)); err != nil {
				log.Printf("positiond: prune price samples: %v", err)
			}
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/oswy-cpu/kapan/native/positions"
	"github.com/oswy-cpu/kapan/services/positiond/adapters"
	"github.com/oswy-cpu/kapan/services/positiond/assets"
	"github.com/oswy-cpu/kapan/services/positiond/executor"
	"github.com/oswy-cpu/kapan/services/positiond/oracle"
	"github.com/oswy-cpu/kapan/services/positiond/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	FlashWhitelist []uint8
}

// Server hosts the position-management API.
type Server struct {
	cfg      Config
	logger   *log.Logger
	storage  *storage.Storage
	resolver *oracle.Resolver
	registry *adapters.Registry
	executor *executor.Executor
	compound *adapters.CompoundAdapter
	catalog  *assets.Catalog
	sessions *SessionManager
	obs      *Observability
	limiter  *RateLimiter
}

// Options bundles the server dependencies.
type Options struct {
	Config   Config
	Logger   *log.Logger
	Storage  *storage.Storage
	Resolver *oracle.Resolver
	Registry *adapters.Registry
	Executor *executor.Executor
	Compound *adapters.CompoundAdapter
	Catalog  *assets.Catalog
	Sessions *SessionManager
	Limiter  *RateLimiter
}

// New constructs the API server.
func New(opts Options) (*Server, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("price resolver required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("adapter registry required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("asset catalog required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session manager required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if strings.TrimSpace(opts.Config.ListenAddress) == "" {
		opts.Config.ListenAddress = ":8881"
	}
	if len(opts.Config.FlashWhitelist) == 0 {
		opts.Config.FlashWhitelist = []uint8{0, 1, 2}
	}
	return &Server{
		cfg:      opts.Config,
		logger:   opts.Logger,
		storage:  opts.Storage,
		resolver: opts.Resolver,
		registry: opts.Registry,
		executor: opts.Executor,
		compound: opts.Compound,
		catalog:  opts.Catalog,
		sessions: opts.Sessions,
		obs:      NewObservability(),
		limiter:  opts.Limiter,
	}, nil
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealthz), "positiond.healthz"))
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/api", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.With(s.obs.Middleware("token-info")).Get("/token-info", s.handleTokenInfo)
		api.With(s.obs.Middleware("session")).Post("/session/challenge", s.handleSessionChallenge)
		api.With(s.obs.Middleware("session")).Post("/session", s.handleSession)

		api.Group(func(private chi.Router) {
			private.Use(s.sessions.Middleware)
			private.With(s.obs.Middleware("positions")).Get("/positions", s.handlePositions)
			private.With(s.obs.Middleware("health")).Get("/health", s.handleHealthFactor)
			private.With(s.obs.Middleware("plan")).Post("/plan", s.handlePlan)
			private.With(s.obs.Middleware("plans")).Get("/plans", s.handleRecentPlans)
			private.With(s.obs.Middleware("execute")).Post("/execute", s.handleExecute)
			private.With(s.obs.Middleware("preferences")).Get("/preferences", s.handleGetPreferences)
			private.With(s.obs.Middleware("preferences")).Put("/preferences", s.handlePutPreferences)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("positiond: http server listening on %s", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTokenInfo resolves a symbol to its 1e8-scaled USD price. The endpoint
// never hard-fails: only a missing symbol is a client error, and any
// resolution failure degrades to a zero price with status 200.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]*big.Int{"price": big.NewInt(0)})
		return
	}
	vs := strings.TrimSpace(r.URL.Query().Get("vs"))
	if vs == "" {
		vs = "usd"
	}
	quote, err := s.resolver.Resolve(r.Context(), symbol, vs)
	if err != nil {
		if !errors.Is(err, oracle.ErrUnresolved) {
			s.logger.Printf("positiond: token info %s: %v", symbol, err)
		}
		s.obs.ObservePriceLookup("unresolved")
		writeJSON(w, http.StatusOK, map[string]*big.Int{"price": big.NewInt(0)})
		return
	}
	s.obs.ObservePriceLookup("resolved")
	writeJSON(w, http.StatusOK, map[string]any{"price": quote.Price, "source": quote.Source})
}

func (s *Server) handleSessionChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.Wallet) {
		http.Error(w, "valid wallet address required", http.StatusBadRequest)
		return
	}
	wallet := common.HexToAddress(req.Wallet)
	nonce, err := s.sessions.IssueNonce(wallet)
	if err != nil {
		s.logger.Printf("positiond: issue nonce: %v", err)
		http.Error(w, "failed to issue challenge", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"wallet":  strings.ToLower(wallet.Hex()),
		"nonce":   nonce,
		"message": ChallengeMessage(wallet, nonce),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet    string `json:"wallet"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.Wallet) {
		http.Error(w, "valid wallet address required", http.StatusBadRequest)
		return
	}
	token, expires, err := s.sessions.Verify(common.HexToAddress(req.Wallet), strings.TrimSpace(req.Nonce), req.Signature)
	if err != nil {
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

type positionPayload struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Balance  string `json:"balance"`
	Display  string `json:"display"`
	PriceUSD string `json:"price_usd"`
	ValueUSD string `json:"value_usd"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	var (
		list    []positions.Position
		readErr error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("protocol")); raw != "" {
		protocol, err := positions.ParseProtocol(raw)
		if err != nil {
			http.Error(w, "unknown protocol", http.StatusBadRequest)
			return
		}
		adapter, ok := s.registry.Adapter(protocol)
		if !ok {
			http.Error(w, "protocol not configured", http.StatusNotFound)
			return
		}
		list, readErr = adapter.Positions(r.Context(), wallet)
	} else {
		list, readErr = s.registry.AllPositions(r.Context(), wallet)
	}
	if readErr != nil {
		// partial reads still render; the failing protocol is logged
		s.logger.Printf("positiond: positions %s: %v", wallet.Hex(), readErr)
	}
	payload := make([]positionPayload, 0, len(list))
	for _, pos := range list {
		payload = append(payload, positionPayload{
			Name:     pos.Name,
			Type:     pos.Type.String(),
			Protocol: pos.Protocol.String(),
			Token:    strings.ToLower(pos.Token.Hex()),
			Symbol:   pos.Symbol,
			Decimals: pos.Decimals,
			Balance:  bigString(pos.Balance),
			Display:  positions.FormatAmount(pos.Balance, pos.Decimals),
			PriceUSD: bigString(pos.PriceUSD),
			ValueUSD: bigString(pos.USDValue()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": payload})
}

// handleHealthFactor reports the wallet's weighted health factor on one
// protocol. Debt aggregates in USD terms so multi-token borrows reduce to a
// single denominator.
func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	protocol, err := positions.ParseProtocol(r.URL.Query().Get("protocol"))
	if err != nil {
		http.Error(w, "unknown protocol", http.StatusBadRequest)
		return
	}
	adapter, ok := s.registry.Adapter(protocol)
	if !ok {
		http.Error(w, "protocol not configured", http.StatusNotFound)
		return
	}
	collaterals, err := adapter.Collaterals(r.Context(), wallet)
	if err != nil {
		s.logger.Printf("positiond: health collaterals: %v", err)
		http.Error(w, "failed to read collaterals", http.StatusBadGateway)
		return
	}
	list, err := adapter.Positions(r.Context(), wallet)
	if err != nil {
		s.logger.Printf("positiond: health positions: %v", err)
		http.Error(w, "failed to read positions", http.StatusBadGateway)
		return
	}

	snap := positions.HealthSnapshot{DebtDecimals: 8, DebtPriceUSD: positions.PriceScale()}
	for _, col := range collaterals {
		snap.Collaterals = append(snap.Collaterals, positions.HealthCollateral{
			Amount:                  col.RawBalance,
			Decimals:                col.Decimals,
			PriceUSD:                col.PriceUSD,
			LiquidationThresholdBps: col.LiquidationThresholdBps,
		})
	}
	debtUSD := new(big.Int)
	for _, pos := range list {
		if pos.Type == positions.PositionBorrow {
			debtUSD.Add(debtUSD, pos.USDValue())
		}
	}
	snap.Debt = debtUSD

	hf := positions.HealthFactor(snap, positions.DefaultRiskParams())
	writeJSON(w, http.StatusOK, map[string]string{
		"protocol":      protocol.String(),
		"health_factor": hf.FloatString(4),
		"severity":      positions.Grade(hf).String(),
	})
}

type collateralRequest struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Max    bool   `json:"max"`
}

type planRequest struct {
	FromProtocol   string              `json:"from_protocol"`
	ToProtocol     string              `json:"to_protocol"`
	PositionType   string              `json:"position_type"`
	DebtSymbol     string              `json:"debt_symbol"`
	DebtAmount     string              `json:"debt_amount"`
	Collaterals    []collateralRequest `json:"collaterals"`
	FlashProvider  *uint8              `json:"flash_provider"`
	CompoundMarket string              `json:"compound_market"`
}

type instructionPayload struct {
	Kind           string `json:"kind"`
	Token          string `json:"token,omitempty"`
	Amount         string `json:"amount,omitempty"`
	ExpectedAmount string `json:"expected_amount,omitempty"`
	WithdrawMax    bool   `json:"withdraw_max,omitempty"`
	FlashProvider  string `json:"flash_provider,omitempty"`
	ApproveRouter  bool   `json:"approve_router,omitempty"`
}

type checkPayload struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// buildPlan resolves a plan request against live balances and the asset
// catalog. Shared by plan preview and execution so both paths agree.
func (s *Server) buildPlan(ctx context.Context, wallet common.Address, req planRequest) (*positions.MovePlan, positions.PlanRequest, error) {
	var zero positions.PlanRequest

	fromProtocol, err := positions.ParseProtocol(req.FromProtocol)
	if err != nil {
		return nil, zero, fmt.Errorf("from protocol: %w", err)
	}
	toProtocol, _ := positions.ParseProtocol(req.ToProtocol)
	positionType, err := positions.ParsePositionType(req.PositionType)
	if err != nil {
		return nil, zero, fmt.Errorf("position type: %w", err)
	}

	build := positions.PlanRequest{
		Wallet:       wallet,
		FromProtocol: fromProtocol,
		ToProtocol:   toProtocol,
		PositionType: positionType,
	}

	if asset, ok := s.catalog.BySymbol(req.DebtSymbol); ok {
		build.DebtToken = common.HexToAddress(asset.Address)
		build.DebtDecimals = asset.Decimals
		build.DecimalsResolved = true
		build.DebtAmount = positions.ParseDecimalAmount(req.DebtAmount, asset.Decimals)
	}

	adapter, ok := s.registry.Adapter(fromProtocol)
	if !ok {
		return nil, zero, fmt.Errorf("source protocol %s not configured", fromProtocol)
	}
	live, err := adapter.Collaterals(ctx, wallet)
	if err != nil {
		return nil, zero, fmt.Errorf("read collaterals: %w", err)
	}
	catalog := positions.BuildCatalog(live)
	selection := positions.NewSelection()
	for _, want := range req.Collaterals {
		symbol := strings.ToUpper(strings.TrimSpace(want.Symbol))
		var token *positions.CollateralToken
		for i := range catalog.Available {
			if catalog.Available[i].Symbol == symbol {
				token = &catalog.Available[i]
				break
			}
		}
		if token == nil {
			return nil, zero, fmt.Errorf("collateral %s not available to move", symbol)
		}
		selection.Toggle(*token)
		if want.Max {
			selection.SetMax(token.Address)
		} else {
			selection.SetAmountText(token.Address, want.Amount)
		}
	}
	build.Collaterals = selection.Items()

	build.FlashProvider = s.pickFlashProvider(ctx, req.FlashProvider)

	if fromProtocol.MarketKeyed() || toProtocol.MarketKeyed() {
		switch {
		case common.IsHexAddress(req.CompoundMarket):
			build.CompoundMarket = common.HexToAddress(req.CompoundMarket)
		case s.compound != nil:
			if market, ok := s.compound.MarketForBase(strings.ToUpper(strings.TrimSpace(req.DebtSymbol))); ok {
				build.CompoundMarket = market
			}
		}
	}

	plan, err := positions.BuildMovePlan(build)
	if err != nil {
		return nil, build, err
	}
	return plan, build, nil
}

// pickFlashProvider returns the requested provider when eligible, otherwise
// the first eligible one, or nil when the chain offers none.
func (s *Server) pickFlashProvider(ctx context.Context, requested *uint8) *positions.FlashLoanProvider {
	var enabled func(uint8) bool
	if s.executor != nil {
		enabled = func(enum uint8) bool {
			ok, err := s.executor.FlashProviderEnabled(ctx, enum)
			if err != nil {
				s.logger.Printf("positiond: flash provider %d flag: %v", enum, err)
				return false
			}
			return ok
		}
	}
	eligible := positions.EligibleFlashLoanProviders(s.cfg.FlashWhitelist, enabled)
	if len(eligible) == 0 {
		return nil
	}
	if requested != nil {
		for _, provider := range eligible {
			if provider.Enum == *requested {
				chosen := provider
				return &chosen
			}
		}
	}
	chosen := eligible[0]
	return &chosen
}

func planPayload(plan *positions.MovePlan, build positions.PlanRequest) map[string]any {
	instructions := make([]instructionPayload, 0, len(plan.Instructions))
	for _, instruction := range plan.Instructions {
		switch in := instruction.(type) {
		case positions.UnlockDebt:
			instructions = append(instructions, instructionPayload{
				Kind:           in.Kind().String(),
				Token:          strings.ToLower(in.DebtToken.Hex()),
				Amount:         bigString(in.Amount),
				ExpectedAmount: in.ExpectedAmount,
				FlashProvider:  in.Flash.Provider.Label(),
			})
		case positions.MoveCollateral:
			instructions = append(instructions, instructionPayload{
				Kind:        in.Kind().String(),
				Token:       strings.ToLower(in.Token.Hex()),
				Amount:      bigString(in.Amount),
				WithdrawMax: in.WithdrawMax,
			})
		case positions.Borrow:
			instructions = append(instructions, instructionPayload{
				Kind:          in.Kind().String(),
				Token:         strings.ToLower(in.Token.Hex()),
				Amount:        bigString(in.Amount),
				ApproveRouter: in.ApproveRouter,
			})
		}
	}
	checks := make([]checkPayload, 0, 3)
	for _, check := range positions.ValidateMoveInputs(build) {
		checks = append(checks, checkPayload{Name: check.Name, OK: check.OK, Detail: check.Detail})
	}
	payload := map[string]any{
		"from_protocol": plan.FromProtocol.String(),
		"to_protocol":   plan.ToProtocol.String(),
		"instructions":  instructions,
		"checks":        checks,
	}
	if plan.CompoundMarket != nil {
		payload["compound_market"] = strings.ToLower(plan.CompoundMarket.Hex())
	}
	return payload
}

// projectedHealth estimates the destination health factor after the move: the
// moved collateral backs the re-borrowed debt. Price resolution failure just
// omits the projection.
func (s *Server) projectedHealth(ctx context.Context, plan *positions.MovePlan, build positions.PlanRequest, debtSymbol string) (*big.Rat, bool) {
	quote, err := s.resolver.Resolve(ctx, debtSymbol, "usd")
	if err != nil {
		return nil, false
	}
	snap := positions.HealthSnapshot{DebtDecimals: build.DebtDecimals, DebtPriceUSD: quote.Price}
	for _, col := range build.Collaterals {
		snap.Collaterals = append(snap.Collaterals, positions.HealthCollateral{
			Amount:                  col.Amount,
			Decimals:                col.Decimals,
			PriceUSD:                col.PriceUSD,
			LiquidationThresholdBps: col.LiquidationThresholdBps,
		})
	}
	for _, instruction := range plan.Instructions {
		if borrow, ok := instruction.(positions.Borrow); ok {
			snap.Debt = borrow.Amount
		}
	}
	return positions.HealthFactor(snap, positions.DefaultRiskParams()), true
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	plan, build, err := s.buildPlan(r.Context(), wallet, req)
	if err != nil {
		writeJSON(w, planErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}

	planID := uuid.New()
	record := storage.PlanRecord{
		ID:           planID,
		Wallet:       wallet,
		FromProtocol: plan.FromProtocol.String(),
		ToProtocol:   plan.ToProtocol.String(),
		DebtToken:    plan.DebtToken,
		DebtAmount:   bigString(build.DebtAmount),
		Steps:        len(plan.Instructions),
	}
	if err := s.storage.RecordPlan(r.Context(), record); err != nil {
		s.logger.Printf("positiond: record plan: %v", err)
	}

	payload := planPayload(plan, build)
	payload["id"] = planID.String()
	if hf, ok := s.projectedHealth(r.Context(), plan, build, req.DebtSymbol); ok {
		payload["projected_health_factor"] = hf.FloatString(4)
		payload["projected_severity"] = positions.Grade(hf).String()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRecentPlans(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	records, err := s.storage.RecentPlans(r.Context(), wallet, 20)
	if err != nil {
		s.logger.Printf("positiond: recent plans: %v", err)
		http.Error(w, "failed to list plans", http.StatusInternalServerError)
		return
	}
	payload := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		payload = append(payload, map[string]any{
			"id":            rec.ID.String(),
			"from_protocol": rec.FromProtocol,
			"to_protocol":   rec.ToProtocol,
			"debt_token":    strings.ToLower(rec.DebtToken.Hex()),
			"debt_amount":   rec.DebtAmount,
			"steps":         rec.Steps,
			"created_at":    rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": payload})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	if s.executor == nil {
		http.Error(w, "execution not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		planRequest
		PlanID string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	plan, _, err := s.buildPlan(r.Context(), wallet, req.planRequest)
	if err != nil {
		writeJSON(w, planErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	prefs, _, err := s.storage.LoadPreferences(r.Context(), wallet)
	if err != nil {
		s.logger.Printf("positiond: load preferences: %v", err)
	}
	receipt, err := s.executor.Execute(r.Context(), *plan, prefs.PreferBatched)
	if err != nil {
		s.logger.Printf("positiond: execute %s: %v", wallet.Hex(), err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	planID, _ := uuid.Parse(strings.TrimSpace(req.PlanID))
	hashes := make([]string, 0, len(receipt.Steps))
	steps := make([]map[string]any, 0, len(receipt.Steps))
	for _, step := range receipt.Steps {
		hashes = append(hashes, step.TxHash.Hex())
		steps = append(steps, map[string]any{"step": step.Step, "tx_hash": step.TxHash.Hex()})
	}
	if err := s.storage.RecordExecution(r.Context(), storage.ExecutionRecord{
		ID:       receipt.ID,
		PlanID:   planID,
		Wallet:   wallet,
		Batched:  receipt.Batched,
		TxHashes: hashes,
	}); err != nil {
		s.logger.Printf("positiond: record execution: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      receipt.ID.String(),
		"batched": receipt.Batched,
		"steps":   steps,
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	prefs, loaded, err := s.storage.LoadPreferences(r.Context(), wallet)
	if err != nil {
		s.logger.Printf("positiond: load preferences: %v", err)
		http.Error(w, "failed to load preferences", http.StatusInternalServerError)
		return
	}
	payload := map[string]any{
		"loaded":           loaded,
		"currency":         prefs.Currency,
		"show_unsupported": prefs.ShowUnsupported,
		"prefer_batched":   prefs.PreferBatched,
	}
	if prefs.FlashProvider != nil {
		payload["flash_provider"] = *prefs.FlashProvider
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	wallet, err := WalletFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	var req struct {
		Currency        string `json:"currency"`
		ShowUnsupported bool   `json:"show_unsupported"`
		PreferBatched   bool   `json:"prefer_batched"`
		FlashProvider   *uint8 `json:"flash_provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.storage.SavePreferences(r.Context(), storage.Preferences{
		Wallet:          wallet,
		Currency:        req.Currency,
		ShowUnsupported: req.ShowUnsupported,
		PreferBatched:   req.PreferBatched,
		FlashProvider:   req.FlashProvider,
	}); err != nil {
		s.logger.Printf("positiond: save preferences: %v", err)
		http.Error(w, "failed to persist preferences", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// planErrorStatus distinguishes precondition failures from malformed input.
func planErrorStatus(err error) int {
	switch {
	case errors.Is(err, positions.ErrWalletRequired),
		errors.Is(err, positions.ErrDestinationRequired),
		errors.Is(err, positions.ErrDecimalsUnknown),
		errors.Is(err, positions.ErrFlashProviderRequired),
		errors.Is(err, positions.ErrSupplyMoveUnsupported):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

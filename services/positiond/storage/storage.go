package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/oswy-cpu/kapan/services/positiond/oracle"
)

// Storage wraps the positiond persistence layer.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("positiond storage path must be configured")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Preferences are the per-wallet settings the API persists between sessions.
// PreferBatched opts the wallet into single-transaction execution when its
// account supports batching. FlashProvider is the preferred provider enum,
// nil for automatic.
type Preferences struct {
	Wallet          common.Address
	Currency        string
	ShowUnsupported bool
	PreferBatched   bool
	FlashProvider   *uint8
	UpdatedAt       time.Time
}

// SavePreferences upserts the wallet's preferences.
func (s *Storage) SavePreferences(ctx context.Context, prefs Preferences) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if prefs.Wallet == (common.Address{}) {
		return fmt.Errorf("preferences wallet required")
	}
	currency := strings.ToUpper(strings.TrimSpace(prefs.Currency))
	if currency == "" {
		currency = "USD"
	}
	var provider sql.NullInt64
	if prefs.FlashProvider != nil {
		provider = sql.NullInt64{Int64: int64(*prefs.FlashProvider), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO preferences(wallet, currency, show_unsupported, prefer_batched, flash_provider, updated_at)
        VALUES(?, ?, ?, ?, ?, ?)
        ON CONFLICT(wallet) DO UPDATE SET
            currency = excluded.currency,
            show_unsupported = excluded.show_unsupported,
            prefer_batched = excluded.prefer_batched,
            flash_provider = excluded.flash_provider,
            updated_at = excluded.updated_at
    `, strings.ToLower(prefs.Wallet.Hex()), currency, prefs.ShowUnsupported, prefs.PreferBatched, provider, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// LoadPreferences returns the wallet's preferences. loaded reports whether a
// stored record existed; when false the returned value carries the defaults
// and callers must not treat it as user intent.
func (s *Storage) LoadPreferences(ctx context.Context, wallet common.Address) (Preferences, bool, error) {
	prefs := Preferences{Wallet: wallet, Currency: "USD"}
	if s == nil {
		return prefs, false, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT currency, show_unsupported, prefer_batched, flash_provider, updated_at
        FROM preferences
        WHERE wallet = ?
    `, strings.ToLower(wallet.Hex()))
	var provider sql.NullInt64
	if err := row.Scan(&prefs.Currency, &prefs.ShowUnsupported, &prefs.PreferBatched, &provider, &prefs.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return prefs, false, nil
		}
		return prefs, false, fmt.Errorf("query preferences: %w", err)
	}
	if provider.Valid {
		value := uint8(provider.Int64)
		prefs.FlashProvider = &value
	}
	return prefs, true, nil
}

// PlanRecord is the audit entry written for every plan built through the API.
type PlanRecord struct {
	ID           uuid.UUID
	Wallet       common.Address
	FromProtocol string
	ToProtocol   string
	DebtToken    common.Address
	DebtAmount   string
	Steps        int
	CreatedAt    time.Time
}

// RecordPlan persists a plan audit entry.
func (s *Storage) RecordPlan(ctx context.Context, rec PlanRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if rec.ID == uuid.Nil {
		return fmt.Errorf("plan record id required")
	}
	created := rec.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO plan_audit(id, wallet, from_protocol, to_protocol, debt_token, debt_amount, steps, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.ID.String(), strings.ToLower(rec.Wallet.Hex()), rec.FromProtocol, rec.ToProtocol,
		strings.ToLower(rec.DebtToken.Hex()), rec.DebtAmount, rec.Steps, created)
	if err != nil {
		return fmt.Errorf("insert plan audit: %w", err)
	}
	return nil
}

// RecentPlans lists the wallet's plan audit entries, newest first.
func (s *Storage) RecentPlans(ctx context.Context, wallet common.Address, limit int) ([]PlanRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, wallet, from_protocol, to_protocol, debt_token, debt_amount, steps, created_at
        FROM plan_audit
        WHERE wallet = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, strings.ToLower(wallet.Hex()), limit)
	if err != nil {
		return nil, fmt.Errorf("query plan audit: %w", err)
	}
	defer rows.Close()
	records := make([]PlanRecord, 0)
	for rows.Next() {
		var (
			rec          PlanRecord
			id           string
			walletHex    string
			debtTokenHex string
		)
		if err := rows.Scan(&id, &walletHex, &rec.FromProtocol, &rec.ToProtocol, &debtTokenHex, &rec.DebtAmount, &rec.Steps, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan plan audit: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse plan id: %w", err)
		}
		rec.ID = parsed
		rec.Wallet = common.HexToAddress(walletHex)
		rec.DebtToken = common.HexToAddress(debtTokenHex)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan audit: %w", err)
	}
	return records, nil
}

// ExecutionRecord captures one submitted execution against a recorded plan.
type ExecutionRecord struct {
	ID        uuid.UUID
	PlanID    uuid.UUID
	Wallet    common.Address
	Batched   bool
	TxHashes  []string
	CreatedAt time.Time
}

// RecordExecution persists an execution audit entry.
func (s *Storage) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if rec.ID == uuid.Nil {
		return fmt.Errorf("execution record id required")
	}
	created := rec.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO execution_audit(id, plan_id, wallet, batched, tx_hashes, created_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, rec.ID.String(), rec.PlanID.String(), strings.ToLower(rec.Wallet.Hex()), rec.Batched,
		strings.Join(rec.TxHashes, ","), created)
	if err != nil {
		return fmt.Errorf("insert execution audit: %w", err)
	}
	return nil
}

// RecordPriceSample implements oracle.Recorder. Unresolved lookups persist
// with a zero price so outages stay visible in the audit trail.
func (s *Storage) RecordPriceSample(ctx context.Context, symbol, vs string, quote oracle.Quote, resolved bool) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	price := "0"
	if quote.Price != nil {
		price = quote.Price.String()
	}
	observed := quote.Timestamp.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO price_samples(symbol, vs, price, source, resolved, observed_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(vs)), price,
		quote.Source, resolved, observed)
	if err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

// PriceSample is one persisted oracle lookup.
type PriceSample struct {
	Symbol     string
	VS         string
	Price      string
	Source     string
	Resolved   bool
	ObservedAt time.Time
}

// RecentPriceSamples lists samples for a symbol, newest first.
func (s *Storage) RecentPriceSamples(ctx context.Context, symbol string, limit int) ([]PriceSample, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT symbol, vs, price, source, resolved, observed_at
        FROM price_samples
        WHERE symbol = ?
        ORDER BY observed_at DESC, id DESC
        LIMIT ?
    `, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, fmt.Errorf("query price samples: %w", err)
	}
	defer rows.Close()
	samples := make([]PriceSample, 0)
	for rows.Next() {
		var sample PriceSample
		if err := rows.Scan(&sample.Symbol, &sample.VS, &sample.Price, &sample.Source, &sample.Resolved, &sample.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price samples: %w", err)
	}
	return samples, nil
}

// PrunePriceSamples removes samples observed before the cutoff.
func (s *Storage) PrunePriceSamples(ctx context.Context, cutoff time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM price_samples
        WHERE observed_at < ?
    `, cutoff.UTC()); err != nil {
		return fmt.Errorf("prune price samples: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
    wallet TEXT PRIMARY KEY,
    currency TEXT NOT NULL,
    show_unsupported BOOLEAN NOT NULL,
    prefer_batched BOOLEAN NOT NULL DEFAULT 0,
    flash_provider INTEGER,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_audit (
    id TEXT PRIMARY KEY,
    wallet TEXT NOT NULL,
    from_protocol TEXT NOT NULL,
    to_protocol TEXT NOT NULL,
    debt_token TEXT NOT NULL,
    debt_amount TEXT NOT NULL,
    steps INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plan_audit_wallet ON plan_audit(wallet, created_at);

CREATE TABLE IF NOT EXISTS execution_audit (
    id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    wallet TEXT NOT NULL,
    batched BOOLEAN NOT NULL,
    tx_hashes TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_audit_wallet ON execution_audit(wallet, created_at);

CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    vs TEXT NOT NULL,
    price TEXT NOT NULL,
    source TEXT NOT NULL,
    resolved BOOLEAN NOT NULL,
    observed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_samples_symbol ON price_samples(symbol, observed_at);
`

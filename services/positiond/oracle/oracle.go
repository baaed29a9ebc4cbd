package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Quote is one resolved USD price. Price is an integer scaled by 1e8,
// matching on-chain oracle precision.
type Quote struct {
	Price     *big.Int
	Source    string
	Timestamp time.Time
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (q Quote) Clone() Quote {
	clone := Quote{Source: q.Source, Timestamp: q.Timestamp}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves a USD price for a token symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol, vs string) (Quote, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrUnresolved indicates that no source produced a usable price.
var ErrUnresolved = errors.New("oracle: price unresolved")

// Resolver consults sources in priority order until one returns a positive
// price. Callers that must never fail (the token-info endpoint) degrade an
// ErrUnresolved to a zero price; callers that can block (plan building) treat
// it as unknown and refuse to proceed.
type Resolver struct {
	sources  []Source
	recorder Recorder
}

// Recorder persists resolved samples for auditing. A nil recorder disables
// sampling.
type Recorder interface {
	RecordPriceSample(ctx context.Context, symbol, vs string, quote Quote, resolved bool) error
}

// NewResolver builds a resolver over the supplied priority-ordered sources.
func NewResolver(sources []Source, recorder Recorder) (*Resolver, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: at least one source required")
	}
	return &Resolver{sources: append([]Source{}, sources...), recorder: recorder}, nil
}

// Resolve returns the first positive quote in priority order. The zero-price
// degradation contract lives with the caller; Resolve itself reports
// ErrUnresolved so "unknown" stays distinguishable from "zero".
func (r *Resolver) Resolve(ctx context.Context, symbol, vs string) (Quote, error) {
	if r == nil {
		return Quote{}, fmt.Errorf("oracle: resolver not configured")
	}
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return Quote{}, fmt.Errorf("oracle: symbol required")
	}
	if strings.TrimSpace(vs) == "" {
		vs = "usd"
	}

	var lastErr error
	for _, src := range r.sources {
		if src == nil {
			continue
		}
		quote, err := src.Fetch(ctx, trimmed, vs)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: source %s returned empty price", src.Name())
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = src.Name()
		}
		if result.Timestamp.IsZero() {
			result.Timestamp = time.Now().UTC()
		}
		r.record(ctx, trimmed, vs, result, true)
		return result, nil
	}

	r.record(ctx, trimmed, vs, Quote{Price: big.NewInt(0)}, false)
	if lastErr == nil {
		lastErr = ErrUnresolved
	}
	return Quote{}, fmt.Errorf("%w: %v", ErrUnresolved, lastErr)
}

func (r *Resolver) record(ctx context.Context, symbol, vs string, quote Quote, resolved bool) {
	if r == nil || r.recorder == nil {
		return
	}
	_ = r.recorder.RecordPriceSample(ctx, symbol, vs, quote, resolved)
}

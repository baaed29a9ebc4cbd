package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Observability carries the per-route metrics and tracing for the API.
type Observability struct {
	tracer       trace.Tracer
	requests     *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	priceLookups *prometheus.CounterVec
	registry     *prometheus.Registry
}

// NewObservability builds an isolated metrics registry for the service.
func NewObservability() *Observability {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "positiond",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the API.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "positiond",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	priceLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "positiond",
		Name:      "price_lookups_total",
		Help:      "Oracle price resolutions by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, durations, priceLookups)
	return &Observability{
		tracer:       otel.Tracer("positiond"),
		requests:     requests,
		durations:    durations,
		priceLookups: priceLookups,
		registry:     registry,
	}
}

// Middleware wraps a route with tracing and request metrics.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			o.requests.WithLabelValues(route, r.Method, http.StatusText(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// ObservePriceLookup counts one oracle resolution by outcome.
func (o *Observability) ObservePriceLookup(outcome string) {
	if o == nil {
		return
	}
	o.priceLookups.WithLabelValues(outcome).Inc()
}

// MetricsHandler serves the service registry.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

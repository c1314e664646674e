// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector used by the pipeline. One instance is
// created at startup and threaded through the constructors.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	SignalsTotal      *prometheus.CounterVec
	TradesAuthorized  prometheus.Counter
	TradesRejected    *prometheus.CounterVec
	RateLimitServes   *prometheus.CounterVec
	RateLimitRefusals prometheus.Counter
	FlattenRetries    prometheus.Counter
	TimeStopExits     prometheus.Counter
	PortfolioStatus   prometheus.Gauge
	Equity            prometheus.Gauge
	OpenPositions     prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "ticks_total",
			Help:      "Pipeline ticks processed, by outcome.",
		}, []string{"outcome"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "osprey",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one pipeline tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "signals_total",
			Help:      "Signals produced, by direction.",
		}, []string{"direction"}),
		TradesAuthorized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "trades_authorized_total",
			Help:      "Signals that passed the risk gate.",
		}),
		TradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "trades_rejected_total",
			Help:      "Signals rejected by the risk gate, by reason.",
		}, []string{"reason"}),
		RateLimitServes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "rate_limit_serves_total",
			Help:      "Rate limit tokens consumed, by serving tier.",
		}, []string{"tier"}),
		RateLimitRefusals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "rate_limit_refusals_total",
			Help:      "Requests refused with all tiers exhausted.",
		}),
		FlattenRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "flatten_retries_total",
			Help:      "Exit order retries during flatten-all.",
		}),
		TimeStopExits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "osprey",
			Name:      "time_stop_exits_total",
			Help:      "Positions closed by the holding-time stop.",
		}),
		PortfolioStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "osprey",
			Name:      "portfolio_status",
			Help:      "Portfolio risk status (0 normal, 1 warning, 2 critical, 3 shutdown).",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "osprey",
			Name:      "equity_dollars",
			Help:      "Current marked equity.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "osprey",
			Name:      "open_positions",
			Help:      "Number of open positions.",
		}),
	}
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics holds the Prometheus collectors shared by handlers and services.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smash"

type Metrics struct {
	RequestDuration     *prometheus.HistogramVec
	RequestsInFlight    prometheus.Gauge
	UploadsTotal        *prometheus.CounterVec
	IngestDuration      prometheus.Histogram
	AnalysesTotal       *prometheus.CounterVec
	AnalysisDuration    prometheus.Histogram
	LedgerAdjustments   *prometheus.CounterVec
	PurchasesTotal      *prometheus.CounterVec
	ReconcileMismatches prometheus.Counter
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "HTTP request duration in seconds, by endpoint and method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Video uploads by outcome.",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time from upload start to persisted video.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}),
		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Analysis runs by terminal state and reason.",
			},
			[]string{"state", "reason"},
		),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of completed analyses.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120},
		}),
		LedgerAdjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_adjustments_total",
				Help:      "Ledger adjust calls by transaction type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		PurchasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Purchase lifecycle events by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		ReconcileMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_reconcile_mismatches_total",
			Help:      "Accounts whose balance or transaction chain failed verification.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total Redis cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total Redis cache misses.",
		}),
	}

	reg.MustRegister(
		m.RequestDuration,
		m.RequestsInFlight,
		m.UploadsTotal,
		m.IngestDuration,
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.LedgerAdjustments,
		m.PurchasesTotal,
		m.ReconcileMismatches,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

// RegisterPool exposes live pgxpool stats as gauges.
func RegisterPool(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool_active",
				Help:      "Number of active database connections.",
			},
			func() float64 { return float64(pool.Stat().AcquiredConns()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool_idle",
				Help:      "Number of idle database connections.",
			},
			func() float64 { return float64(pool.Stat().IdleConns()) },
		),
	)
}

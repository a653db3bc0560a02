package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Retention pipeline
	GenerationItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "retention_generation_items_total", Help: "Queue generation outcomes."},
		[]string{"result"}, // created | blocked | skipped
	)
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "retention_dispatch_total", Help: "Dispatch outcomes."},
		[]string{"outcome"}, // sent | retry | failed | error
	)
	ProviderSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_send_duration_seconds",
			Help:    "Provider send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	StuckReleased = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "retention_stuck_released_total", Help: "SENDING items requeued by the reconciliation pass."},
	)
)

var registerOnce sync.Once

// MustRegister installs the default and domain collectors. Safe to call from
// both the API server and the worker test harnesses.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			HTTPRequests, HTTPDuration,
			GenerationItems, DispatchTotal, ProviderSendDuration, StuckReleased,
		)
	})
}

// PGXPoolStats is a tiny pgxpool stats exporter.
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)
	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
			m.acquireLatency.Add(s.AcquireDuration().Seconds())
		}
	}
}

// ObserveGeneration records a generation run's aggregate result.
func ObserveGeneration(created, blocked, skipped int) {
	GenerationItems.WithLabelValues("created").Add(float64(created))
	GenerationItems.WithLabelValues("blocked").Add(float64(blocked))
	GenerationItems.WithLabelValues("skipped").Add(float64(skipped))
}

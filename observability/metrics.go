package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type marketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	flashLoans *prometheus.CounterVec
	accruals   *prometheus.CounterVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// MarketMetrics returns the lazily-initialised registry tracking market
// operation activity.
func MarketMetrics() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "veralend",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by op and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "veralend",
				Subsystem: "market",
				Name:      "operation_seconds",
				Help:      "Market operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "veralend",
				Subsystem: "market",
				Name:      "flash_loans_total",
				Help:      "Count of flash loans segmented by reserve and outcome.",
			}, []string{"token", "outcome"}),
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "veralend",
				Subsystem: "market",
				Name:      "accumulator_syncs_total",
				Help:      "Count of accumulator synchronizations per reserve.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.flashLoans,
			marketRegistry.accruals,
		)
	})
	return marketRegistry
}

// RecordOperation increments the operation counter and observes latency.
func (m *marketMetrics) RecordOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(normalizeLabel(op), outcome).Inc()
	m.latency.WithLabelValues(normalizeLabel(op)).Observe(elapsed.Seconds())
}

// RecordFlashLoan increments the flash-loan counter.
func (m *marketMetrics) RecordFlashLoan(token string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.flashLoans.WithLabelValues(normalizeLabel(token), outcome).Inc()
}

// RecordAccrual increments the per-reserve sync counter.
func (m *marketMetrics) RecordAccrual(token string) {
	if m == nil {
		return
	}
	m.accruals.WithLabelValues(normalizeLabel(token)).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ComptrollerMetrics tracks admission decisions, aborts and reward flow.
type ComptrollerMetrics struct {
	decisions   *prometheus.CounterVec
	aborts      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	distributed *prometheus.CounterVec
	claimed     prometheus.Counter
	skipped     prometheus.Counter
	blockHeight prometheus.Gauge
	commitSize  prometheus.Histogram
}

var (
	comptrollerOnce     sync.Once
	comptrollerRegistry *ComptrollerMetrics
)

func Comptroller() *ComptrollerMetrics {
	comptrollerOnce.Do(func() {
		comptrollerRegistry = &ComptrollerMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comptroller_calls_total",
				Help: "Count of comptroller calls by operation and result code.",
			}, []string{"operation", "code"}),
			aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comptroller_aborts_total",
				Help: "Count of fatal aborts by operation and code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "comptroller_call_duration_seconds",
				Help:    "Latency of comptroller calls including commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comptroller_rewards_distributed_total",
				Help: "Reward token base units credited to accounts by side.",
			}, []string{"side"}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comptroller_rewards_paid_total",
				Help: "Reward token base units transferred out on claim or grant.",
			}),
			skipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comptroller_rewards_payout_skipped_total",
				Help: "Payouts skipped because the treasury balance was insufficient.",
			}),
			blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comptroller_block_height",
				Help: "Latest block height observed by the comptroller.",
			}),
			commitSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "comptroller_commit_writes",
				Help:    "Number of storage writes committed per call.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			}),
		}
		prometheus.MustRegister(
			comptrollerRegistry.decisions,
			comptrollerRegistry.aborts,
			comptrollerRegistry.latency,
			comptrollerRegistry.distributed,
			comptrollerRegistry.claimed,
			comptrollerRegistry.skipped,
			comptrollerRegistry.blockHeight,
			comptrollerRegistry.commitSize,
		)
	})
	return comptrollerRegistry
}

// ObserveCall records the result code and latency of one call.
func (m *ComptrollerMetrics) ObserveCall(operation, code string, fatal bool, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if code == "" {
		code = "no_error"
	}
	m.decisions.WithLabelValues(operation, code).Inc()
	if fatal {
		m.aborts.WithLabelValues(operation, code).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddDistributed adds reward units credited on the supplied side.
func (m *ComptrollerMetrics) AddDistributed(side string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.distributed.WithLabelValues(side).Add(amount)
}

func (m *ComptrollerMetrics) AddPaid(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.claimed.Add(amount)
}

func (m *ComptrollerMetrics) IncPayoutSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *ComptrollerMetrics) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
}

func (m *ComptrollerMetrics) ObserveCommit(writes int) {
	if m == nil {
		return
	}
	m.commitSize.Observe(float64(writes))
}

package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	effects *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking comptroller effects as they
// leave the engine.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			effects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "events",
				Name:      "effects_total",
				Help:      "Count of committed comptroller effects segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "events",
				Name:      "effects_dropped_total",
				Help:      "Effects a subscriber could not keep up with, segmented by sink.",
			}, []string{"sink"}),
		}
		prometheus.MustRegister(eventRegistry.effects, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordEffect increments the effect counter for the supplied type.
func (m *eventMetrics) RecordEffect(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.effects.WithLabelValues(normalized).Inc()
}

// RecordDropped counts an effect that was not delivered to sink.
func (m *eventMetrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	if sink == "" {
		sink = "unknown"
	}
	m.dropped.WithLabelValues(sink).Inc()
}

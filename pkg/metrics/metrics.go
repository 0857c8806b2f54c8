// Package metrics exposes a Coordinator's Prometheus collectors: queue
// depth/drops, classifier calls by path, search latency, conscious
// promotions, and an FTS availability gauge. Coordinator.GetMemoryStats
// reads the classifier fallback rate from here; Coordinator.Health reads
// nothing from this package.
package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors a Coordinator instance owns. Each
// Coordinator gets its own Registry (rather than registering on the global
// default registerer) so multiple instances in one process never collide.
type Registry struct {
	Registerer *prometheus.Registry

	QueueDepth      prometheus.Gauge
	QueueDropsTotal prometheus.Counter

	ClassifierCallsTotal     *prometheus.CounterVec // label: path=primary|fallback
	SearchLatencySeconds     prometheus.Histogram
	ConsciousPromotionsTotal prometheus.Counter

	FTSAvailable prometheus.Gauge
}

// New constructs a Registry with all collectors registered under the
// "memori" namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registerer: reg,
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memori",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of pending items in the async capture queue.",
		}),
		QueueDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memori",
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Total number of exchanges dropped because the capture queue was full.",
		}),
		ClassifierCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memori",
			Subsystem: "classifier",
			Name:      "calls_total",
			Help:      "Total classifier invocations by path (primary or fallback).",
		}, []string{"path"}),
		SearchLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memori",
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search engine query latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		ConsciousPromotionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memori",
			Subsystem: "conscious",
			Name:      "promotions_total",
			Help:      "Total long-term memories promoted into the working set.",
		}),
		FTSAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memori",
			Subsystem: "store",
			Name:      "fts_available",
			Help:      "1 if the store's full-text index is available, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		r.QueueDepth,
		r.QueueDropsTotal,
		r.ClassifierCallsTotal,
		r.SearchLatencySeconds,
		r.ConsciousPromotionsTotal,
		r.FTSAvailable,
	)

	return r
}

// RecordClassifierCall increments the classifier-path counter.
func (r *Registry) RecordClassifierCall(usedFallback bool) {
	if usedFallback {
		r.ClassifierCallsTotal.WithLabelValues("fallback").Inc()
		return
	}
	r.ClassifierCallsTotal.WithLabelValues("primary").Inc()
}

// ObserveSearch records a search engine invocation's wall-clock latency.
func (r *Registry) ObserveSearch(start time.Time) {
	r.SearchLatencySeconds.Observe(time.Since(start).Seconds())
}

// FallbackRate returns the fraction of classifier calls that used the
// rule-based fallback path, for inclusion in get_memory_stats.
func (r *Registry) FallbackRate() float64 {
	primary := readCounter(r.ClassifierCallsTotal, "primary")
	fallback := readCounter(r.ClassifierCallsTotal, "fallback")
	total := primary + fallback
	if total == 0 {
		return 0
	}
	return fallback / total
}

func readCounter(vec *prometheus.CounterVec, label string) float64 {
	metric, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

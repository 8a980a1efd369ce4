package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion and fan-out pipeline.
type Metrics struct {
	FeedFetches     *prometheus.CounterVec // labels: outcome={success,error}
	EventsFetched   prometheus.Counter
	EventsInserted  prometheus.Counter
	LinesSkipped    prometheus.Counter
	ExtractionFails prometheus.Counter

	Cycles           *prometheus.CounterVec // labels: outcome={success,error}
	CycleDuration    prometheus.Histogram
	SchedulerRunning prometheus.Gauge

	Deliveries         *prometheus.CounterVec // labels: kind, outcome={success,error}
	TemplateDeliveries *prometheus.CounterVec // labels: outcome={success,error}
	ReceiptsSwept      prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FeedFetches,
		m.EventsFetched,
		m.EventsInserted,
		m.LinesSkipped,
		m.ExtractionFails,
		m.Cycles,
		m.CycleDuration,
		m.SchedulerRunning,
		m.Deliveries,
		m.TemplateDeliveries,
		m.ReceiptsSwept,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "feed_fetches_total",
			Help:      "Upstream bulletin fetches by outcome.",
		}, []string{"outcome"}),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "events_fetched_total",
			Help:      "Total event rows parsed from the bulletin.",
		}),
		EventsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "events_inserted_total",
			Help:      "Total previously-unseen events persisted.",
		}),
		LinesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "parse_lines_skipped_total",
			Help:      "Bulletin rows dropped by the parser.",
		}),
		ExtractionFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "extraction_failures_total",
			Help:      "Cycles aborted because the table markers were not found.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "cycles_total",
			Help:      "Completed scheduler cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_alert",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-parse-insert-dispatch cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_alert",
			Name:      "scheduler_running",
			Help:      "1 when the polling loop is active, 0 when shut down.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "channel_deliveries_total",
			Help:      "Channel send attempts by adapter kind and outcome.",
		}, []string{"kind", "outcome"}),
		TemplateDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "template_deliveries_total",
			Help:      "Poll template send attempts by outcome.",
		}, []string{"outcome"}),
		ReceiptsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_alert",
			Name:      "receipts_swept_total",
			Help:      "Delivery receipts purged by the retention sweep.",
		}),
	}
}

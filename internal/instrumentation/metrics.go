package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the market views service.
type Metrics struct {
	StreamLagMs       prometheus.Histogram
	EventsTotal       *prometheus.CounterVec
	DispatchLatencyMs prometheus.Histogram
	ResultsTotal      *prometheus.CounterVec
	ActiveFeeds       prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Stream processing lag
		StreamLagMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketviews_stream_lag_ms",
			Help:    "Time between event timestamp and processing time in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000},
		}),

		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketviews_events_processed_total",
			Help: "Total number of book events dispatched, by event type",
		}, []string{"type"}),

		DispatchLatencyMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketviews_dispatch_latency_ms",
			Help:    "Time to run one event through a feed's aggregators in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		}),

		ResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketviews_results_published_total",
			Help: "Total number of aggregator results published",
		}, []string{"feed", "aggregator"}),

		ActiveFeeds: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketviews_active_feeds",
			Help: "Number of enabled feeds",
		}),

		// Errors by component and type
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketviews_errors_total",
			Help: "Total number of errors by component and type",
		}, []string{"component", "error_type"}),
	}
}

// RecordStreamLag records the lag between event timestamp and processing time.
func (m *Metrics) RecordStreamLag(lagMs float64) {
	m.StreamLagMs.Observe(lagMs)
}

// RecordEvent counts one dispatched event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDispatchLatency records the time spent dispatching one event.
func (m *Metrics) RecordDispatchLatency(latencyMs float64) {
	m.DispatchLatencyMs.Observe(latencyMs)
}

// RecordResult counts one published result.
func (m *Metrics) RecordResult(feed, aggregator string) {
	m.ResultsTotal.WithLabelValues(feed, aggregator).Inc()
}

// SetActiveFeeds sets the enabled feed gauge.
func (m *Metrics) SetActiveFeeds(n int) {
	m.ActiveFeeds.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

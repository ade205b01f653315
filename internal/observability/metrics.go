package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for the submission
// pipeline.
type Metrics struct {
	ItemsUploaded    prometheus.Counter
	BatchesSubmitted prometheus.Counter
	UsersCreated     prometheus.Counter
	MalformedTime    prometheus.Counter

	BatchSize      prometheus.Histogram
	SubmitDuration prometheus.Histogram

	// Tile and enrichment metrics.
	TilesCreated        *prometheus.CounterVec // label: grid={location,location_10km}
	EnrichmentPublished *prometheus.CounterVec // label: kind={cell,wifi}
	EnrichmentErrors    *prometheus.CounterVec // label: kind={cell,wifi}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ItemsUploaded,
		m.BatchesSubmitted,
		m.UsersCreated,
		m.MalformedTime,
		m.BatchSize,
		m.SubmitDuration,
		m.TilesCreated,
		m.EnrichmentPublished,
		m.EnrichmentErrors,
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
		ItemsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "items_uploaded_total",
			Help:      "Total observation items accepted from submit batches.",
		}),
		BatchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "batches_submitted_total",
			Help:      "Total submit batches committed.",
		}),
		UsersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "users_created_total",
			Help:      "Total users created from first-seen nicknames.",
		}),
		MalformedTime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "malformed_time_total",
			Help:      "Total non-empty observation timestamps discarded as unparseable.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "location_ingest",
			Name:      "batch_size",
			Help:      "Number of observation items per submit batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250},
		}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "location_ingest",
			Name:      "submit_duration_seconds",
			Help:      "Duration of a complete submit batch transaction.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
		TilesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "tiles_created_total",
			Help:      "Tiles this instance believes it created, by grid (best-effort under concurrency).",
		}, []string{"grid"}),
		EnrichmentPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "enrichment_published_total",
			Help:      "Enrichment tasks handed to the broker, by kind.",
		}, []string{"kind"}),
		EnrichmentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location_ingest",
			Name:      "enrichment_errors_total",
			Help:      "Enrichment dispatch failures, by kind.",
		}, []string{"kind"}),
	}
}

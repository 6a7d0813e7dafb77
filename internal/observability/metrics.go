package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the analysis pipeline.
type Metrics struct {
	SamplesConsumed prometheus.Counter
	SamplesProduced prometheus.Counter
	AnalysisErrors  prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Per-sample analysis metrics.
	EventsGated      prometheus.Counter
	AnalysisDuration prometheus.Histogram

	// Dataset fetch metrics.
	FetchRequests *prometheus.CounterVec // labels: kind={dataset,file,archive}, outcome={success,error}
	FetchCache    *prometheus.CounterVec // labels: kind={dataset,file}, result={hit,miss}
	FetchEnabled  prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "samples_consumed_total",
			Help:      "Total sample requests read from the source topic.",
		}),
		SamplesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "samples_produced_total",
			Help:      "Total population summaries written to the sink topic.",
		}),
		AnalysisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "analysis_errors_total",
			Help:      "Total sample analysis failures.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcell_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcell_etl",
			Name:      "batch_size",
			Help:      "Number of sample requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 50},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcell_etl",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-analyze-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		EventsGated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "events_gated_total",
			Help:      "Total cytometry events passed through gating.",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcell_etl",
			Name:      "analysis_duration_seconds",
			Help:      "Duration of a single sample analysis: read, compensate, transform, gate.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "fetch_requests_total",
			Help:      "Flow repository requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tcell_etl",
			Name:      "fetch_cache_total",
			Help:      "Dataset metadata and download cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		FetchEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcell_etl",
			Name:      "fetch_enabled",
			Help:      "1 when the flow repository client is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.SamplesConsumed,
		m.SamplesProduced,
		m.AnalysisErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.EventsGated,
		m.AnalysisDuration,
		m.FetchRequests,
		m.FetchCache,
		m.FetchEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SamplesConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "samples_consumed_total"}),
		SamplesProduced:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "samples_produced_total"}),
		AnalysisErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "analysis_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "tcell_etl", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "tcell_etl", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "tcell_etl", Name: "batch_processing_duration_seconds"}),
		EventsGated:             prometheus.NewCounter(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "events_gated_total"}),
		AnalysisDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "tcell_etl", Name: "analysis_duration_seconds"}),
		FetchRequests:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "fetch_requests_total"}, []string{"kind", "outcome"}),
		FetchCache:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "tcell_etl", Name: "fetch_cache_total"}, []string{"kind", "result"}),
		FetchEnabled:            prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "tcell_etl", Name: "fetch_enabled"}),
	}
}

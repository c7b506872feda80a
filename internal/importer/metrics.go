package importer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors. Every series except
// redeliveries carries a "site" label so /metrics can be filtered per site.
type Metrics struct {
	Files            *prometheus.CounterVec
	RowsParsed       *prometheus.CounterVec
	TruncatedFiles   *prometheus.CounterVec
	RecordsCommitted *prometheus.CounterVec
	FileDuration     *prometheus.HistogramVec
	Redeliveries     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webmetrics",
				Name:      "files_total",
				Help:      "Export files handled, by outcome (committed, duplicate, input_error, persistence_error).",
			},
			[]string{"site", "outcome"},
		),
		RowsParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webmetrics",
				Name:      "rows_parsed_total",
				Help:      "Page rows read from export files.",
			},
			[]string{"site"},
		),
		TruncatedFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webmetrics",
				Name:      "truncated_files_total",
				Help:      "Export files whose scan stopped at a malformed row.",
			},
			[]string{"site"},
		),
		RecordsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "webmetrics",
				Name:      "records_committed_total",
				Help:      "Consolidated page records written to the store.",
			},
			[]string{"site"},
		),
		FileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "webmetrics",
				Name:      "file_duration_seconds",
				Help:      "Time to parse, consolidate and commit one export file.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		Redeliveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "webmetrics",
				Name:      "redeliveries_total",
				Help:      "Work items handed back to the queue after a failed attempt.",
			},
		),
	}
	reg.MustRegister(m.Files, m.RowsParsed, m.TruncatedFiles, m.RecordsCommitted, m.FileDuration, m.Redeliveries)
	return m
}

// Package metrics provides the Prometheus metric set of a backup run.
//
// Metrics live on a registry owned by the run instead of the process-wide
// default registerer, so every run (and every test) starts from zero and the
// values can be written out as a node-exporter textfile once the run ends.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector touched during a backup run.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts API requests by endpoint kind and HTTP status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes API request latency by endpoint kind.
	RequestDuration *prometheus.HistogramVec

	// ErrorsTotal counts failed requests by error class (client, server, network).
	ErrorsTotal *prometheus.CounterVec

	// PacerWaitSeconds observes how long requests waited for the pacer.
	PacerWaitSeconds prometheus.Histogram

	// PagesTotal counts paginated responses by resource (records, comments).
	PagesTotal *prometheus.CounterVec

	// BasesTotal counts bases visited.
	BasesTotal prometheus.Counter

	// TablesTotal counts tables by result (written, skipped).
	TablesTotal *prometheus.CounterVec

	// RecordsTotal counts records written.
	RecordsTotal prometheus.Counter

	// CommentsTotal counts comments merged into records.
	CommentsTotal prometheus.Counter

	// LastSuccess is the unix time of the last completed run.
	LastSuccess prometheus.Gauge

	// RunDuration is the wall time of the last run in seconds.
	RunDuration prometheus.Gauge
}

// New creates a metric set registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airtable_backup_requests_total",
			Help: "Total Airtable API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airtable_backup_request_duration_seconds",
			Help:    "Airtable API request duration in seconds by endpoint",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airtable_backup_errors_total",
			Help: "Total Airtable API errors by class",
		}, []string{"class"}),
		PacerWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "airtable_backup_pacer_wait_seconds",
			Help:    "Time spent waiting for the request pacer",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5},
		}),
		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airtable_backup_pages_total",
			Help: "Total paginated responses consumed by resource",
		}, []string{"resource"}),
		BasesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "airtable_backup_bases_total",
			Help: "Total bases visited",
		}),
		TablesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airtable_backup_tables_total",
			Help: "Total tables by result",
		}, []string{"result"}),
		RecordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "airtable_backup_records_total",
			Help: "Total records written",
		}),
		CommentsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "airtable_backup_comments_total",
			Help: "Total record comments written",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "airtable_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup run",
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "airtable_backup_run_duration_seconds",
			Help: "Duration of the last backup run in seconds",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format to path.
// The file is written atomically, as expected by the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - airtable_backup_requests_total{endpoint, status} (Counter)
//   - airtable_backup_request_duration_seconds{endpoint} (Histogram)
//   - airtable_backup_errors_total{class} (Counter): client, server, network
//   - airtable_backup_pacer_wait_seconds (Histogram)
//
// Endpoint label values: bases, tables, records, comments, other.
//
// Walk Metrics (pkg/pagination, pkg/backup):
//   - airtable_backup_pages_total{resource} (Counter)
//   - airtable_backup_bases_total (Counter)
//   - airtable_backup_tables_total{result} (Counter): written, skipped
//   - airtable_backup_records_total (Counter)
//   - airtable_backup_comments_total (Counter)
//
// Run Metrics (cmd/airtable-backup):
//   - airtable_backup_last_success_timestamp_seconds (Gauge)
//   - airtable_backup_run_duration_seconds (Gauge)
//
// Example alert for a nightly backup:
//
//   time() - airtable_backup_last_success_timestamp_seconds > 2 * 86400

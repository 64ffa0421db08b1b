package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trips_query_duration_seconds",
			Help:    "Duration of trip filter queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	RowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trips_rows_skipped_total",
			Help: "Rows discarded for a missing driver name",
		},
	)

	CSVParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trips_csv_parse_errors_total",
			Help: "Stored files that failed to parse during a query or ingestion",
		},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trips_uploads_total",
			Help: "Upload attempts by result",
		},
		[]string{"result"},
	)

	UpstreamErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trips_upstream_errors_total",
			Help: "Failed calls to the trip database",
		},
	)

	RowsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trips_rows_ingested_total",
			Help: "Trip rows written to the database",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func ObserveQuery(backend string, start time.Time) {
	TripsQueryDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

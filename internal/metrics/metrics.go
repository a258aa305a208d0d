package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verax_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verax_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Append path metrics
	AppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_appends_total",
			Help: "Total number of audit record append attempts",
		},
		[]string{"status"},
	)

	AppendRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verax_append_retries_total",
			Help: "Total number of append retries after chain tail conflicts",
		},
	)

	AppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_append_duration_seconds",
			Help:    "Audit record append latencies in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	// Search metrics
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_searches_total",
			Help: "Total number of audit record searches",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_search_duration_seconds",
			Help:    "Audit search latencies in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	SearchResultsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_search_results_count",
			Help:    "Number of audit records returned by searches",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Integrity verification metrics
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_verifications_total",
			Help: "Total number of chain integrity verification runs",
		},
		[]string{"status"},
	)

	VerificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_verification_duration_seconds",
			Help:    "Chain integrity verification latencies in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	VerificationRecordsChecked = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_verification_records_checked",
			Help:    "Number of records inspected per verification run",
			Buckets: []float64{0, 10, 100, 1000, 10000, 100000, 1000000},
		},
	)

	IntegrityViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_integrity_violations_total",
			Help: "Total number of integrity violations detected",
		},
		[]string{"type"},
	)

	// Archival metrics
	ArchiveRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_archive_runs_total",
			Help: "Total number of archival runs",
		},
		[]string{"status"},
	)

	ArchiveRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_archive_run_duration_seconds",
			Help:    "Archival run latencies in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	ArchivedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verax_archived_records_total",
			Help: "Total number of audit records marked archived",
		},
	)

	ExportedSegmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verax_exported_segments_total",
			Help: "Total number of archive segments exported to cold storage",
		},
	)

	ExportedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verax_exported_bytes_total",
			Help: "Total number of bytes exported to cold storage",
		},
	)

	// Compliance report metrics
	ReportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_report_jobs_total",
			Help: "Total number of compliance report jobs",
		},
		[]string{"status"},
	)

	ReportJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verax_report_job_duration_seconds",
			Help:    "Compliance report generation latencies in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	ReportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verax_report_queue_depth",
			Help: "Number of compliance report jobs waiting to run",
		},
	)

	// Scheduler metrics
	ScheduledRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_scheduled_runs_total",
			Help: "Total number of scheduled background job runs",
		},
		[]string{"job", "status"},
	)

	// System metrics
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verax_build_info",
			Help: "Build information about Verax",
		},
		[]string{"version", "go_version"},
	)

	// Rate limiting metrics
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_rate_limit_requests_total",
			Help: "Total number of requests checked against rate limits",
		},
		[]string{"limiter_type", "status"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verax_rate_limit_exceeded_total",
			Help: "Total number of requests that exceeded rate limits",
		},
		[]string{"limiter_type"},
	)

	RateLimitActiveClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verax_rate_limit_active_clients",
			Help: "Number of active clients being rate limited",
		},
		[]string{"limiter_type"},
	)
)

// Package metrics declares the Prometheus collectors shared by the
// progress store, the remote client and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultRejected    = "rejected"
	ResultInvalid     = "invalid"
	ResultNotFound    = "not_found"
	ResultReplaced    = "replaced"
	ResultKeptLocal   = "kept_local"
	ResultNoop        = "noop"
	ResultCorrect     = "correct"
	ResultIncorrect   = "incorrect"
	ResultUnavailable = "unavailable"
)

// ==============================================================================
// Progress store
// ==============================================================================

var (
	// StoreMutations counts local mutations by operation and namespace.
	StoreMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_progress_mutations_total",
		Help: "Local progress mutations by operation and namespace",
	}, []string{"operation", "namespace"})

	// RemotePushes counts best-effort pushes to the remote store.
	RemotePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_progress_remote_push_total",
		Help: "Remote progress pushes by result",
	}, []string{"result"})

	// RemoteLoads counts merge-on-read outcomes.
	RemoteLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_progress_remote_load_total",
		Help: "Remote progress loads by merge result",
	}, []string{"result"})

	// RemoteLegsInFlight is the number of detached remote operations still running.
	RemoteLegsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stepwise_progress_remote_in_flight",
		Help: "Detached remote progress operations in flight",
	})

	// RemoteRequestDuration tracks remote API latency.
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepwise_remote_request_duration_seconds",
		Help:    "Remote progress API request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"method", "result"})

	// LocalCacheErrors counts failed local cache reads and writes.
	LocalCacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_local_cache_errors_total",
		Help: "Local cache failures by operation",
	}, []string{"operation"})
)

// ==============================================================================
// Reader
// ==============================================================================

var (
	// CheckpointSubmissions counts checkpoint answers by outcome.
	CheckpointSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_checkpoint_submissions_total",
		Help: "Checkpoint submissions by outcome",
	}, []string{"result"})

	// StepTransitions counts step-gate transitions.
	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_step_transitions_total",
		Help: "Step gate transitions by kind and result",
	}, []string{"kind", "result"})

	// MalformedFields counts text fields skipped while building a view.
	MalformedFields = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_malformed_fields_total",
		Help: "Section text fields skipped because they were empty or malformed",
	}, []string{"section_kind"})

	// CatalogSections counts sections seen while loading the catalog.
	CatalogSections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_catalog_sections_total",
		Help: "Catalog sections loaded or dropped",
	}, []string{"result"})
)

// ==============================================================================
// HTTP
// ==============================================================================

var (
	// HTTPRequests counts HTTP requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepwise_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})

	// HTTPDuration tracks HTTP handler latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepwise_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

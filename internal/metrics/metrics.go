package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchOutcome labels how an intercepted request was ultimately served.
type FetchOutcome string

const (
	// FetchNetwork records a live origin response returned to the client.
	FetchNetwork FetchOutcome = "network"
	// FetchCache records a cache hit served after a network failure.
	FetchCache FetchOutcome = "cache"
	// FetchOffline records the offline fallback page being substituted.
	FetchOffline FetchOutcome = "offline"
	// FetchBypass records a request exempted from interception by policy.
	FetchBypass FetchOutcome = "bypass"
	// FetchPassthrough records a non-GET request proxied untouched.
	FetchPassthrough FetchOutcome = "passthrough"
)

// CacheOperation identifies the store method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records response store lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records response store write attempts.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationEvict records generation eviction sweeps.
	CacheOperationEvict CacheOperation = "evict"
)

// CacheResult captures the result of a store operation.
type CacheResult string

const (
	// CacheHit indicates a lookup found a cached response.
	CacheHit CacheResult = "hit"
	// CacheMiss indicates no cached response was present.
	CacheMiss CacheResult = "miss"
	// CacheStored indicates the response was persisted.
	CacheStored CacheResult = "stored"
	// CacheError indicates the operation failed.
	CacheError CacheResult = "error"
)

// InstallResult labels the outcome of a generation install attempt.
type InstallResult string

const (
	// InstallSucceeded indicates the generation precached cleanly.
	InstallSucceeded InstallResult = "success"
	// InstallFailed indicates a precache fetch failed and the generation was discarded.
	InstallFailed InstallResult = "failure"
	// InstallSuperseded indicates a newer install replaced a waiting generation.
	InstallSuperseded InstallResult = "superseded"
)

// NotificationChannel labels how a notification reached clients.
type NotificationChannel string

const (
	// ChannelNative is a notification delivered to permission-granted clients.
	ChannelNative NotificationChannel = "native"
	// ChannelToast is the in-page toast fallback broadcast.
	ChannelToast NotificationChannel = "toast"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	installs      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellgate",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Intercepted requests processed by the fetch agent.",
	}, []string{"outcome", "status_code"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shellgate",
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for intercepted requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellgate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Response store operations executed by the gateway.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shellgate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for response store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellgate",
		Subsystem: "lifecycle",
		Name:      "installs_total",
		Help:      "Generation install attempts grouped by result.",
	}, []string{"result"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellgate",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notifications dispatched grouped by delivery channel.",
	}, []string{"channel"})

	reg.MustRegister(fetchRequests, fetchLatency, cacheOperations, cacheLatency, installs, notifications)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetchRequests:   fetchRequests,
		fetchLatency:    fetchLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		installs:        installs,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency for a completed intercepted request.
func (r *Recorder) ObserveFetch(outcome FetchOutcome, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := normalizeLabel(string(outcome))
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.fetchRequests.WithLabelValues(outcomeLabel, statusLabel).Inc()
	r.fetchLatency.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

// ObserveCache records the result of a response store operation.
func (r *Recorder) ObserveCache(operation CacheOperation, result CacheResult, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(string(result))
	r.cacheOperations.WithLabelValues(opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveInstall records a generation install attempt.
func (r *Recorder) ObserveInstall(result InstallResult) {
	if r == nil {
		return
	}
	r.installs.WithLabelValues(normalizeLabel(string(result))).Inc()
}

// ObserveNotification records a dispatched notification.
func (r *Recorder) ObserveNotification(channel NotificationChannel) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(normalizeLabel(string(channel))).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// Package metrics provides Prometheus metrics for the racesync client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the racesync client.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Entity store metrics
	storeWrites          *prometheus.CounterVec
	storeSize            *prometheus.GaugeVec
	storeDiscardedWrites *prometheus.CounterVec

	// Mutation metrics
	mutations       *prometheus.CounterVec
	mutationLatency *prometheus.HistogramVec

	// Reconciliation metrics
	reconcileScheduled *prometheus.CounterVec
	reconcileCoalesced *prometheus.CounterVec
	reconcileRuns      *prometheus.CounterVec
	reconcileLatency   *prometheus.HistogramVec

	// Registration verification
	verifications *prometheus.CounterVec

	// Auth metrics
	retryAttempts *prometheus.CounterVec
	sessionActive prometheus.Gauge

	// Error metrics
	classifiedErrors *prometheus.CounterVec

	// HTTP client metrics
	clientRequests        *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec

	// Task queue and worker metrics
	queueSize          prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec
	workerActiveCount  prometheus.Gauge
	workerTasks        *prometheus.CounterVec

	// Mock backend HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "racesync",
		subsystem:        "client",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: m.customLabels,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			Buckets:     m.histogramBuckets,
			ConstLabels: m.customLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: m.customLabels,
		})
	}

	m.storeWrites = counter("store_writes_total", "Entity store writes by store and operation", "store", "op")
	m.storeSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_size",
		Help:        "Current number of entities held per store",
		ConstLabels: m.customLabels,
	}, []string{"store"})
	m.storeDiscardedWrites = counter("store_discarded_writes_total", "Writes ignored because the store was closed", "store")

	m.mutations = counter("mutations_total", "Optimistic mutations by collection, operation and outcome", "collection", "op", "outcome")
	m.mutationLatency = histogram("mutation_latency_milliseconds", "Time from optimistic apply to request resolution", "op")

	m.reconcileScheduled = counter("reconcile_scheduled_total", "Reconciliation refreshes armed", "collection")
	m.reconcileCoalesced = counter("reconcile_coalesced_total", "Schedule calls merged into an already pending refresh", "collection")
	m.reconcileRuns = counter("reconcile_runs_total", "Reconciliation refreshes executed by outcome", "collection", "outcome")
	m.reconcileLatency = histogram("reconcile_latency_milliseconds", "Duration of authoritative collection fetches", "collection")

	m.verifications = counter("registration_verifications_total", "Post-write registration verification outcomes", "outcome")

	m.retryAttempts = counter("retry_attempts_total", "Retried attempts by operation", "operation")
	m.sessionActive = gauge("session_active", "1 while a valid credential is held")

	m.classifiedErrors = counter("classified_errors_total", "Failures surfaced to callers by category", "category")

	m.clientRequests = counter("http_client_requests_total", "Outgoing HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.clientRequestDuration = histogram("http_client_request_duration_milliseconds", "Outgoing HTTP request duration", "endpoint", "method")

	m.queueSize = gauge("task_queue_size", "Current number of queued refresh tasks")
	m.queueEnqueueErrors = counter("task_queue_enqueue_errors_total", "Refresh tasks rejected by the queue", "reason")
	m.workerActiveCount = gauge("worker_active_count", "Number of refresh workers running")
	m.workerTasks = counter("worker_tasks_total", "Refresh tasks processed by outcome", "outcome")

	m.httpRequests = counter("http_requests_total", "Mock backend requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = histogram("http_request_duration_milliseconds", "Mock backend request duration", "endpoint", "method", "status_code")
}

// RecordStoreWrite counts a write against a store.
func RecordStoreWrite(store, op string) {
	globalManager.storeWrites.WithLabelValues(store, op).Inc()
}

// UpdateStoreSize sets the current size of a store.
func UpdateStoreSize(store string, size int) {
	globalManager.storeSize.WithLabelValues(store).Set(float64(size))
}

// RecordStoreDiscardedWrite counts a write dropped by a closed store.
func RecordStoreDiscardedWrite(store string) {
	globalManager.storeDiscardedWrites.WithLabelValues(store).Inc()
}

// RecordMutation counts a resolved mutation.
func RecordMutation(collection, op, outcome string) {
	globalManager.mutations.WithLabelValues(collection, op, outcome).Inc()
}

// RecordMutationLatency records mutation latency in milliseconds.
func RecordMutationLatency(op string, latencyMs float64) {
	globalManager.mutationLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordReconcileScheduled counts an armed reconciliation.
func RecordReconcileScheduled(collection string) {
	globalManager.reconcileScheduled.WithLabelValues(collection).Inc()
}

// RecordReconcileCoalesced counts a schedule merged into a pending one.
func RecordReconcileCoalesced(collection string) {
	globalManager.reconcileCoalesced.WithLabelValues(collection).Inc()
}

// RecordReconcileRun counts an executed refresh.
func RecordReconcileRun(collection, outcome string) {
	globalManager.reconcileRuns.WithLabelValues(collection, outcome).Inc()
}

// RecordReconcileLatency records refresh latency in milliseconds.
func RecordReconcileLatency(collection string, latencyMs float64) {
	globalManager.reconcileLatency.WithLabelValues(collection).Observe(latencyMs)
}

// RecordVerification counts a registration verification outcome.
func RecordVerification(outcome string) {
	globalManager.verifications.WithLabelValues(outcome).Inc()
}

// RecordRetryAttempt counts a retried attempt.
func RecordRetryAttempt(operation string) {
	globalManager.retryAttempts.WithLabelValues(operation).Inc()
}

// UpdateSessionActive flips the session gauge.
func UpdateSessionActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	globalManager.sessionActive.Set(v)
}

// RecordClassifiedError counts a failure surfaced to callers.
func RecordClassifiedError(category string) {
	globalManager.classifiedErrors.WithLabelValues(category).Inc()
}

// RecordClientRequest counts an outgoing HTTP request.
func RecordClientRequest(endpoint, method, statusCode string) {
	globalManager.clientRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordClientRequestDuration records outgoing request duration in milliseconds.
func RecordClientRequestDuration(endpoint, method string, durationMs float64) {
	globalManager.clientRequestDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}

// UpdateQueueSize sets the task queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueueError counts a rejected task.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerTask counts a processed task.
func RecordWorkerTask(outcome string) {
	globalManager.workerTasks.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts a request served by the mock backend.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records served request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package metrics provides Prometheus metrics for the shareview indexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the indexer.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Reduction metrics
	eventsApplied    *prometheus.CounterVec
	batchesCommitted prometheus.Counter
	batchesFailed    *prometheus.CounterVec
	batchLatency     prometheus.Histogram
	blocksProcessed  prometheus.Counter
	lastHeight       prometheus.Gauge
	snapshotsWritten prometheus.Counter
	snapshotsSkipped prometheus.Counter

	// Materialized aggregates
	idleWorkerShares prometheus.Gauge
	idleWorkerCount  prometheus.Gauge
	workerCount      prometheus.Gauge

	// Working set
	workingSetSessions prometheus.Gauge
	workingSetWorkers  prometheus.Gauge

	// Repository
	repositoryCommitLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "shareview",
		subsystem:        "indexer",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsApplied = auto.NewCounterVec(m.counter("events_applied_total", "Total number of events applied to the view by kind"), []string{"kind"})
	m.batchesCommitted = auto.NewCounter(m.counter("batches_committed_total", "Total number of batches committed"))
	m.batchesFailed = auto.NewCounterVec(m.counter("batches_failed_total", "Total number of batches aborted by reason"), []string{"reason"})
	m.batchLatency = auto.NewHistogram(m.histogram("batch_latency_milliseconds", "Time from batch receipt to commit in milliseconds"))
	m.blocksProcessed = auto.NewCounter(m.counter("blocks_processed_total", "Total number of blocks folded into the view"))
	m.lastHeight = auto.NewGauge(m.gauge("last_committed_height", "Height of the last committed block"))
	m.snapshotsWritten = auto.NewCounter(m.counter("snapshots_written_total", "Total number of shares snapshot rows written"))
	m.snapshotsSkipped = auto.NewCounter(m.counter("snapshots_skipped_total", "Total number of blocks whose snapshot bucket already existed"))

	m.idleWorkerShares = auto.NewGauge(m.gauge("idle_worker_shares", "Sum of shares over idle sessions"))
	m.idleWorkerCount = auto.NewGauge(m.gauge("idle_worker_count", "Number of idle sessions"))
	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Number of bound sessions"))

	m.workingSetSessions = auto.NewGauge(m.gauge("working_set_sessions", "Sessions loaded for the last batch"))
	m.workingSetWorkers = auto.NewGauge(m.gauge("working_set_workers", "Workers loaded for the last batch"))

	m.repositoryCommitLatency = auto.NewHistogram(m.histogram("repository_commit_latency_milliseconds", "Histogram of store commit latency in milliseconds"))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogram("repository_query_latency_milliseconds", "Histogram of store query latency in milliseconds"))

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Current number of batches waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum capacity of the batch queue"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)"))
	m.queueEnqueueRate = auto.NewCounter(m.counter("queue_enqueue_total", "Total number of batches enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counter("queue_dequeue_total", "Total number of batches dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Total number of enqueue errors"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogram("queue_processing_latency_milliseconds", "Time batches spend in the queue in milliseconds"))

	m.workerActiveCount = auto.NewGauge(m.gauge("worker_active", "1 while the batch worker is running"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds", "Batch processing latency in milliseconds"))
	m.workerErrorRate = auto.NewCounter(m.counter("worker_errors_total", "Total number of batch processing errors"))

	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total", "Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counter("errors_by_component_total", "Total number of errors by component"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	gc := m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds")
	gc.Buckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	m.systemGCPauseTime = auto.NewHistogram(gc)
}

// RecordEventApplied increments the applied-events counter for kind.
func RecordEventApplied(kind string) {
	globalManager.eventsApplied.WithLabelValues(kind).Inc()
}

// RecordBatchCommitted increments the committed-batches counter.
func RecordBatchCommitted() {
	globalManager.batchesCommitted.Inc()
}

// RecordBatchFailed increments the failed-batches counter for reason.
func RecordBatchFailed(reason string) {
	globalManager.batchesFailed.WithLabelValues(reason).Inc()
}

// RecordBatchLatency records the end-to-end batch latency in milliseconds.
func RecordBatchLatency(latencyMs float64) {
	globalManager.batchLatency.Observe(latencyMs)
}

// RecordBlocksProcessed adds n folded blocks.
func RecordBlocksProcessed(n int) {
	globalManager.blocksProcessed.Add(float64(n))
}

// UpdateLastCommittedHeight sets the last committed block height.
func UpdateLastCommittedHeight(height uint64) {
	globalManager.lastHeight.Set(float64(height))
}

// RecordSnapshotsWritten adds n written snapshot rows.
func RecordSnapshotsWritten(n int) {
	globalManager.snapshotsWritten.Add(float64(n))
}

// RecordSnapshotSkipped counts a block whose bucket was already written.
func RecordSnapshotSkipped() {
	globalManager.snapshotsSkipped.Inc()
}

// UpdateGlobalState publishes the committed aggregates.
func UpdateGlobalState(idleShares float64, idleCount, workerCount int64) {
	globalManager.idleWorkerShares.Set(idleShares)
	globalManager.idleWorkerCount.Set(float64(idleCount))
	globalManager.workerCount.Set(float64(workerCount))
}

// UpdateWorkingSetSize publishes the size of the last working set.
func UpdateWorkingSetSize(sessions, workers int) {
	globalManager.workingSetSessions.Set(float64(sessions))
	globalManager.workingSetWorkers.Set(float64(workers))
}

// RecordRepositoryCommitLatency records commit latency in milliseconds.
func RecordRepositoryCommitLatency(latencyMs float64) {
	globalManager.repositoryCommitLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records query latency in milliseconds.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records time spent queued in milliseconds.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of running batch workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records batch processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent increments the error counter for a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

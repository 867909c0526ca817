// Package metrics provides Prometheus metrics for the civicstake service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exposed by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Escrow
	stakes         prometheus.Counter
	pointsStaked   prometheus.Counter
	stakesRejected *prometheus.CounterVec
	releases       prometheus.Counter
	pointsReleased prometheus.Counter
	refunds        prometheus.Counter
	pointsRefunded prometheus.Counter
	pointsCredited prometheus.Counter

	// Release policy
	releaseEvaluations *prometheus.CounterVec
	aiSignal           *prometheus.CounterVec
	aiLatency          prometheus.Histogram

	// Sweeper
	sweepRuns       prometheus.Counter
	sweepDuration   prometheus.Histogram
	sweepFailures   prometheus.Counter
	sweepExpired    prometheus.Counter
	sweepLeaseSkips prometheus.Counter

	// Rating
	ratingUpdates    *prometheus.CounterVec
	ratingConflicts  prometheus.Counter
	officialsRanked  prometheus.Gauge
	releaseEvents    *prometheus.CounterVec
	duplicateEvents  prometheus.Counter
	eventPublishFail *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide metrics

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "civicstake",
		subsystem:        "escrow",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.stakes = m.counter("stakes_total", "Stakes accepted into escrow")
	m.pointsStaked = m.counter("points_staked_total", "Points moved from balances into escrow")
	m.stakesRejected = m.counterVec("stakes_rejected_total", "Stakes rejected by reason", "reason")
	m.releases = m.counter("entries_released_total", "Escrow entries released to charity")
	m.pointsReleased = m.counter("points_released_total", "Points donated to charity")
	m.refunds = m.counter("entries_refunded_total", "Escrow entries refunded to stakers")
	m.pointsRefunded = m.counter("points_refunded_total", "Points returned to stakers")
	m.pointsCredited = m.counter("points_credited_total", "Points added through purchases and registrations")

	m.releaseEvaluations = m.counterVec("release_evaluations_total", "Release policy evaluations by outcome", "outcome")
	m.aiSignal = m.counterVec("ai_signal_total", "AI directness lookups by availability", "state")
	m.aiLatency = m.histogram("ai_latency_milliseconds", "AI directness analysis latency", m.histogramBuckets)

	m.sweepRuns = m.counter("sweep_runs_total", "Expiry sweeps executed")
	m.sweepDuration = m.histogram("sweep_duration_milliseconds", "Expiry sweep wall time", m.histogramBuckets)
	m.sweepFailures = m.counter("sweep_question_failures_total", "Questions whose refund failed during a sweep")
	m.sweepExpired = m.counter("questions_expired_total", "Questions marked expired by the sweeper")
	m.sweepLeaseSkips = m.counter("sweep_lease_skipped_total", "Sweeps skipped because another replica held the lease")

	m.ratingUpdates = m.counterVec("rating_updates_total", "Rating belief updates by kind", "kind")
	m.ratingConflicts = m.counter("rating_conflicts_total", "Belief compare-and-swap conflicts")
	m.officialsRanked = m.gauge("officials_ranked", "Officials present on the leaderboard")
	m.releaseEvents = m.counterVec("release_events_total", "Release events published by transport", "transport")
	m.duplicateEvents = m.counter("release_events_duplicate_total", "Release events dropped as duplicates")
	m.eventPublishFail = m.counterVec("release_events_failed_total", "Release events that could not be published", "transport")

	m.queueSize = m.gauge("queue_size", "Current release event queue length")
	m.queueCapacity = m.gauge("queue_capacity", "Release event queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue length divided by capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Events enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Events rejected by the queue")

	m.workerActiveCount = m.gauge("worker_active_count", "Rating workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time to apply one release event", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Release events that failed to apply")

	auto := promauto.With(m.registry)
	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration",
		ConstLabels: m.constLabels,
		Buckets:     m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
}

// RecordStake counts an accepted stake of amount points.
func RecordStake(amount int64) {
	globalManager.stakes.Inc()
	globalManager.pointsStaked.Add(float64(amount))
}

// RecordStakeRejected counts a stake refused for reason.
func RecordStakeRejected(reason string) {
	globalManager.stakesRejected.WithLabelValues(reason).Inc()
}

// RecordRelease counts entries released and the points they carried.
func RecordRelease(entries int, points int64) {
	globalManager.releases.Add(float64(entries))
	globalManager.pointsReleased.Add(float64(points))
}

// RecordRefund counts entries refunded and the points returned.
func RecordRefund(entries int, points int64) {
	globalManager.refunds.Add(float64(entries))
	globalManager.pointsRefunded.Add(float64(points))
}

// RecordCredit counts points added to balances.
func RecordCredit(points int64) {
	globalManager.pointsCredited.Add(float64(points))
}

// RecordReleaseEvaluation counts one policy evaluation by outcome.
func RecordReleaseEvaluation(outcome string) {
	globalManager.releaseEvaluations.WithLabelValues(outcome).Inc()
}

// RecordAISignal counts whether the directness signal was available.
func RecordAISignal(available bool, latencyMs float64) {
	state := "unavailable"
	if available {
		state = "available"
	}
	globalManager.aiSignal.WithLabelValues(state).Inc()
	globalManager.aiLatency.Observe(latencyMs)
}

// RecordSweep records a completed sweep.
func RecordSweep(durationMs float64, expired, failures int) {
	globalManager.sweepRuns.Inc()
	globalManager.sweepDuration.Observe(durationMs)
	globalManager.sweepExpired.Add(float64(expired))
	globalManager.sweepFailures.Add(float64(failures))
}

// RecordSweepLeaseSkip counts a sweep skipped because the lease was taken.
func RecordSweepLeaseSkip() {
	globalManager.sweepLeaseSkips.Inc()
}

// RecordRatingUpdate counts a belief change of the given kind.
func RecordRatingUpdate(kind string) {
	globalManager.ratingUpdates.WithLabelValues(kind).Inc()
}

// RecordRatingConflict counts a lost belief compare-and-swap.
func RecordRatingConflict() {
	globalManager.ratingConflicts.Inc()
}

// UpdateOfficialsRanked sets the leaderboard size.
func UpdateOfficialsRanked(count int) {
	globalManager.officialsRanked.Set(float64(count))
}

// RecordReleaseEventPublished counts an event handed to transport.
func RecordReleaseEventPublished(transport string) {
	globalManager.releaseEvents.WithLabelValues(transport).Inc()
}

// RecordReleaseEventFailed counts an event transport refused.
func RecordReleaseEventFailed(transport string) {
	globalManager.eventPublishFail.WithLabelValues(transport).Inc()
}

// RecordReleaseEventDuplicate counts an event dropped by the deduper.
func RecordReleaseEventDuplicate() {
	globalManager.duplicateEvents.Inc()
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records how long one event took.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByEndpoint records an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error raised inside a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
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

// GetRegistry returns the registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

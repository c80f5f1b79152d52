package metrics

import (
	"strconv"
	"sync"

	"github.com/arloliu/jobline/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so that a
// collector which is constructed but never exercised leaves the registry
// untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	gateAdmissions  *prometheus.CounterVec
	gateWait        prometheus.Histogram
	gateQueueDepth  prometheus.Gauge
	msgDecisions    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	fetchErrors     *prometheus.CounterVec
	jobsTerminal    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	eventFailures   *prometheus.CounterVec
	reconcileDecs   *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "jobline" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "jobline"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.gateAdmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "gate",
			Name:      "admissions_total",
			Help:      "Tasks admitted by the concurrency gate, by whether they waited in the queue.",
		}, []string{"queued"})
		p.gateWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "gate",
			Name:      "wait_seconds",
			Help:      "Time tasks spent waiting for a gate slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4m
		})
		p.gateQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "gate",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting across all gate keys.",
		})

		p.msgDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "decisions_total",
			Help:      "Ack decisions taken by the durable consumer (ack, nak, dlq) with dead-letter reason.",
		}, []string{"consumer", "action", "reason"})
		p.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "handler_duration_seconds",
			Help:      "Message handler latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10), // 5ms .. ~19s
		}, []string{"consumer"})
		p.fetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetch_errors_total",
			Help:      "Failed batch fetches.",
		}, []string{"consumer"})

		p.jobsTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "terminal_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"status"})
		p.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time from job creation to terminal status.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"})
		p.eventFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "event_publish_failures_total",
			Help:      "Terminal job events that could not be published.",
		}, []string{"type"})

		p.reconcileDecs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "topology",
			Name:      "decisions_total",
			Help:      "Topology reconcile decisions by kind, action and dry-run flag.",
		}, []string{"kind", "action", "dry_run"})

		p.reg.MustRegister(p.gateAdmissions)
		p.reg.MustRegister(p.gateWait)
		p.reg.MustRegister(p.gateQueueDepth)
		p.reg.MustRegister(p.msgDecisions)
		p.reg.MustRegister(p.handlerDuration)
		p.reg.MustRegister(p.fetchErrors)
		p.reg.MustRegister(p.jobsTerminal)
		p.reg.MustRegister(p.jobDuration)
		p.reg.MustRegister(p.eventFailures)
		p.reg.MustRegister(p.reconcileDecs)
	})
}

// RecordGateAdmission counts an admission and observes its wait time.
func (p *PrometheusCollector) RecordGateAdmission(queued bool, waitSeconds float64) {
	p.ensureRegistered()
	p.gateAdmissions.WithLabelValues(strconv.FormatBool(queued)).Inc()
	p.gateWait.Observe(waitSeconds)
}

// RecordGateQueueDepth sets the gate queue depth gauge.
func (p *PrometheusCollector) RecordGateQueueDepth(depth int) {
	p.ensureRegistered()
	p.gateQueueDepth.Set(float64(depth))
}

// RecordMessageDecision counts an ack decision.
func (p *PrometheusCollector) RecordMessageDecision(consumer, action, reason string) {
	p.ensureRegistered()
	p.msgDecisions.WithLabelValues(consumer, action, reason).Inc()
}

// RecordHandlerDuration observes handler latency.
func (p *PrometheusCollector) RecordHandlerDuration(consumer string, seconds float64) {
	p.ensureRegistered()
	p.handlerDuration.WithLabelValues(consumer).Observe(seconds)
}

// RecordFetchError counts a failed fetch.
func (p *PrometheusCollector) RecordFetchError(consumer string) {
	p.ensureRegistered()
	p.fetchErrors.WithLabelValues(consumer).Inc()
}

// RecordJobTerminal counts a terminal job and observes its lifetime.
func (p *PrometheusCollector) RecordJobTerminal(status types.Status, seconds float64) {
	p.ensureRegistered()
	p.jobsTerminal.WithLabelValues(status.String()).Inc()
	p.jobDuration.WithLabelValues(status.String()).Observe(seconds)
}

// RecordEventPublishFailure counts an unpublished terminal event.
func (p *PrometheusCollector) RecordEventPublishFailure(eventType types.EventType) {
	p.ensureRegistered()
	p.eventFailures.WithLabelValues(string(eventType)).Inc()
}

// RecordReconcileDecision counts a reconcile decision.
func (p *PrometheusCollector) RecordReconcileDecision(kind, action string, dryRun bool) {
	p.ensureRegistered()
	p.reconcileDecs.WithLabelValues(kind, action, strconv.FormatBool(dryRun)).Inc()
}

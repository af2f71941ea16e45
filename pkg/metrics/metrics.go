// Package metrics exposes engine metrics to Prometheus. Metrics implements
// the queue and walker observer interfaces.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Queue metrics
	jobsEnqueued *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsRetried  prometheus.Counter
	jobWait      prometheus.Histogram

	// Execution metrics
	executionsFinished *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	nodesFinished      *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec

	// Admission metrics
	admissions *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		jobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_jobs_enqueued_total",
				Help: "Total number of jobs enqueued by organization",
			},
			[]string{"org_id"},
		),

		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_jobs_finished_total",
				Help: "Total number of jobs reaching a final status",
			},
			[]string{"status"},
		),

		jobsRetried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netpad_jobs_retried_total",
				Help: "Total number of job attempts scheduled for retry",
			},
		),

		jobWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netpad_job_wait_seconds",
				Help:    "Time jobs spent eligible before being claimed",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),

		executionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_executions_finished_total",
				Help: "Total number of executions reaching a terminal status",
			},
			[]string{"status"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netpad_execution_duration_seconds",
				Help:    "Execution wall time excluding paused periods",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"status"},
		),

		nodesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_nodes_finished_total",
				Help: "Total number of node runs by kind and status",
			},
			[]string{"kind", "status"},
		),

		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netpad_node_duration_seconds",
				Help:    "Node execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_trigger_admissions_total",
				Help: "Trigger admissions by kind and outcome code",
			},
			[]string{"kind", "code"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netpad_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netpad_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		registry: registry,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsEnqueued,
		m.jobsFinished,
		m.jobsRetried,
		m.jobWait,
		m.executionsFinished,
		m.executionDuration,
		m.nodesFinished,
		m.nodeDuration,
		m.admissions,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

func (m *Metrics) JobEnqueued(orgID string) {
	m.jobsEnqueued.WithLabelValues(orgID).Inc()
}

func (m *Metrics) JobClaimed(wait time.Duration) {
	m.jobWait.Observe(wait.Seconds())
}

func (m *Metrics) JobFinished(status models.JobStatus) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) JobRetried() {
	m.jobsRetried.Inc()
}

func (m *Metrics) NodeFinished(kind models.NodeKind, status models.NodeStatus, duration time.Duration) {
	m.nodesFinished.WithLabelValues(string(kind), string(status)).Inc()
	m.nodeDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (m *Metrics) ExecutionFinished(status models.ExecutionStatus, duration time.Duration) {
	m.executionsFinished.WithLabelValues(string(status)).Inc()
	m.executionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordAdmission counts a trigger admission; code is "accepted" or the
// rejection code.
func (m *Metrics) RecordAdmission(kind models.TriggerKind, code string) {
	m.admissions.WithLabelValues(string(kind), code).Inc()
}

// RecordHTTPRequest records an HTTP request against its route pattern.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

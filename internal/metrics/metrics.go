package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dataspace"

// Metrics holds the collectors for one process on its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Orchestrations       *prometheus.CounterVec
	OrchestrationSeconds prometheus.Histogram
	CredentialWait       prometheus.Histogram
	DownstreamCalls      *prometheus.CounterVec
	ToolRequests         *prometheus.CounterVec
	DispatchQueueDepth   prometheus.Gauge
	Jobs                 *prometheus.CounterVec
	Webhooks             *prometheus.CounterVec
	PullMessages         *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPRequestSeconds   *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Orchestrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrations_total",
			Help:      "Negotiate/transfer/credential exchanges by outcome",
		}, []string{"outcome"}),
		OrchestrationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "orchestration_duration_seconds",
			Help:      "Duration of negotiate/transfer/credential exchanges",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		CredentialWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_wait_seconds",
			Help:      "Time spent waiting for a streamed credential",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		DownstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_calls_total",
			Help:      "Downstream job creation calls by path and outcome",
		}, []string{"path", "outcome"}),
		ToolRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_requests_total",
			Help:      "Tool requests by final status",
		}, []string{"status"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Tasks waiting for a dispatcher worker",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dss_jobs_total",
			Help:      "DSS jobs by terminal status",
		}, []string{"status"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Completion webhooks by direction and outcome",
		}, []string{"direction", "outcome"}),
		PullMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_messages_total",
			Help:      "Endpoint data references handled by the pull backend",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Orchestrations,
		m.OrchestrationSeconds,
		m.CredentialWait,
		m.DownstreamCalls,
		m.ToolRequests,
		m.DispatchQueueDepth,
		m.Jobs,
		m.Webhooks,
		m.PullMessages,
		m.HTTPRequests,
		m.HTTPRequestSeconds,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordOrchestration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Orchestrations.WithLabelValues(outcome).Inc()
	m.OrchestrationSeconds.Observe(d.Seconds())
}

func (m *Metrics) RecordCredentialWait(d time.Duration) {
	if m == nil {
		return
	}
	m.CredentialWait.Observe(d.Seconds())
}

func (m *Metrics) RecordDownstreamCall(path, outcome string) {
	if m == nil {
		return
	}
	m.DownstreamCalls.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) RecordToolRequest(status string) {
	if m == nil {
		return
	}
	m.ToolRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) SetDispatchQueueDepth(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordWebhook(direction, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) RecordPullMessage(outcome string) {
	if m == nil {
		return
	}
	m.PullMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

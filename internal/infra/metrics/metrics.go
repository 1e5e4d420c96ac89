// Package metrics exposes Prometheus instruments for the agent runtime.
//
// Each Metrics owns its registry, so tests and multiple agents in one
// process never collide on the global default registry. All recording
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finagent"

// Metrics groups the collectors recorded by the agent and its adapters.
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts agent runs by outcome (done|model_unavailable|exhausted).
	RunsTotal *prometheus.CounterVec
	// RunIterations observes how many model turns a run took.
	RunIterations prometheus.Histogram

	// ModelRequests counts model calls. Labels: provider, model, status.
	ModelRequests *prometheus.CounterVec
	// ModelDuration measures model latency in seconds. Labels: provider, model.
	ModelDuration *prometheus.HistogramVec
	// ModelTokens tracks token usage. Labels: provider, model, type (prompt|completion).
	ModelTokens *prometheus.CounterVec

	// ToolCalls counts tool invocations. Labels: tool, outcome (ok|error|rejected|unknown|invalid).
	ToolCalls *prometheus.CounterVec
	// ToolDuration measures executor latency. Labels: tool.
	ToolDuration *prometheus.HistogramVec
	// PolicyRejections counts calls refused by the per-run policy. Labels: tool.
	PolicyRejections *prometheus.CounterVec

	// CacheLookups counts cache hits and misses. Labels: cache (search|embedding), result (hit|miss).
	CacheLookups *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance backed by a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Total agent runs by outcome",
		}, []string{"outcome"}),
		RunIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_iterations",
			Help:      "Model turns taken per agent run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		}),

		ModelRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Total model requests by provider, model and status",
		}, []string{"provider", "model", "status"}),
		ModelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Duration of model requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider", "model"}),
		ModelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by provider, model and type",
		}, []string{"provider", "model", "type"}),

		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool"}),
		PolicyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rejections_total",
			Help:      "Tool calls refused by the per-run policy",
		}, []string{"tool"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RunFinished(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunIterations.Observe(float64(iterations))
}

func (m *Metrics) ModelCall(provider, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelRequests.WithLabelValues(provider, model, status).Inc()
	m.ModelDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *Metrics) Tokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	m.ModelTokens.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	m.ModelTokens.WithLabelValues(provider, model, "completion").Add(float64(completion))
}

// ToolCall records one dispatched call. d is ignored for outcomes that never
// reached the executor.
func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	if outcome == "ok" || outcome == "error" {
		m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

func (m *Metrics) PolicyRejected(tool string) {
	if m == nil {
		return
	}
	m.PolicyRejections.WithLabelValues(tool).Inc()
}

func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

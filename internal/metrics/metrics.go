// Package metrics holds the Prometheus instruments of agent runs, tool
// calls and the actuator channel. All methods are safe on a nil *Collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webpilot"

// Collector owns a private registry so tests and embedders never collide
// on the global one.
type Collector struct {
	registry *prometheus.Registry

	modelCalls     *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec
	modelTokens    *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	turnsPerRun    prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	tasksTotal     *prometheus.CounterVec
	actuatorActive prometheus.Gauge
}

// New creates a Collector with Go runtime collectors registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model calls by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		modelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model call latency including streaming.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		modelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens used, by type (prompt, completion).",
		}, []string{"provider", "model", "type"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished agent runs by status.",
		}, []string{"status"}),
		turnsPerRun: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_turns",
			Help:      "Model turns used per run.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 50, 100},
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool, backend and outcome.",
		}, []string{"tool", "backend", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "backend"}),
		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_tasks_total",
			Help:      "Orchestrated tasks by outcome (fulfilled, rejected).",
		}, []string{"outcome"}),
		actuatorActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actuator_connected",
			Help:      "1 while a remote actuator is attached.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordModelCall records one provider call.
func (c *Collector) RecordModelCall(provider, model string, err error, d time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.modelCalls.WithLabelValues(provider, model, status).Inc()
	c.modelDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		c.modelTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.modelTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRun records a finished run.
func (c *Collector) RecordRun(status string, turns int) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.turnsPerRun.Observe(float64(turns))
}

// RecordToolCall records one dispatched tool call.
func (c *Collector) RecordToolCall(tool, backend string, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.toolCalls.WithLabelValues(tool, backend, outcome).Inc()
	c.toolDuration.WithLabelValues(tool, backend).Observe(d.Seconds())
}

// RecordTask records an orchestrated task outcome.
func (c *Collector) RecordTask(fulfilled bool) {
	if c == nil {
		return
	}
	outcome := "fulfilled"
	if !fulfilled {
		outcome = "rejected"
	}
	c.tasksTotal.WithLabelValues(outcome).Inc()
}

// SetActuatorConnected flips the actuator gauge.
func (c *Collector) SetActuatorConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.actuatorActive.Set(1)
	} else {
		c.actuatorActive.Set(0)
	}
}

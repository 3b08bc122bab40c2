// Package metrics exports delegation and workflow activity as Prometheus
// metrics, fed by the hook system.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/conductor/internal/hooks"
)

const (
	namespace = "conductor"
	hookName  = "metrics"
)

// Collector owns a registry and the metrics recorded into it.
type Collector struct {
	registry *prometheus.Registry

	DelegationAttempts *prometheus.CounterVec
	DelegationLatency  *prometheus.HistogramVec
	CacheHits          *prometheus.CounterVec
	StreamChunks       *prometheus.CounterVec
	Streams            *prometheus.CounterVec

	StepsTotal     *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	StepAttempts   *prometheus.HistogramVec
	WorkflowsTotal *prometheus.CounterVec
	WorkflowTime   *prometheus.HistogramVec
	Running        prometheus.Gauge

	AgentReloads prometheus.Counter
}

// New creates a collector with its own registry. Go runtime and process
// collectors are registered when withRuntime is set.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		DelegationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegation_attempts_total",
				Help:      "Delegation attempts by agent and outcome",
			},
			[]string{"agent", "protocol", "status"}, // status: success|<error kind>
		),
		DelegationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delegation_attempt_duration_seconds",
				Help:      "Duration of single delegation attempts",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegation_cache_hits_total",
				Help:      "Delegations answered from the idempotency cache",
			},
			[]string{"agent"},
		),
		StreamChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Chunks received from streaming agents",
			},
			[]string{"agent"},
		),
		Streams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_attempts_total",
				Help:      "Stream attempts by agent and outcome",
			},
			[]string{"agent", "status"},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_steps_total",
				Help:      "Workflow steps by tool and final status",
			},
			[]string{"workflow", "tool", "status"}, // status: success|failed|skipped
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_step_duration_seconds",
				Help:      "Step duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		StepAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_step_attempts",
				Help:      "Attempts used per step",
				Buckets:   []float64{1, 2, 3, 4, 6, 8},
			},
			[]string{"tool"},
		),
		WorkflowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_executions_total",
				Help:      "Finished workflow executions",
			},
			[]string{"workflow", "status"}, // status: success|failed
		),
		WorkflowTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Workflow execution duration",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"workflow"},
		),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_running",
			Help:      "Workflow executions in progress",
		}),

		AgentReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_reloads_total",
			Help:      "Agent registry reloads",
		}),
	}

	c.registry.MustRegister(
		c.DelegationAttempts, c.DelegationLatency, c.CacheHits, c.StreamChunks, c.Streams,
		c.StepsTotal, c.StepDuration, c.StepAttempts, c.WorkflowsTotal, c.WorkflowTime, c.Running,
		c.AgentReloads,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach registers handlers for every event the collector counts.
func (c *Collector) Attach(hm *hooks.Manager) {
	hm.On(hooks.EventDelegationComplete, hookName, c.onDelegation)
	hm.On(hooks.EventDelegationCacheHit, hookName, c.onCacheHit)
	hm.On(hooks.EventStreamChunk, hookName, c.onStreamChunk)
	hm.On(hooks.EventStreamComplete, hookName, c.onStreamComplete)
	hm.On(hooks.EventStepComplete, hookName, c.onStepComplete)
	hm.On(hooks.EventStepSkipped, hookName, c.onStepSkipped)
	hm.On(hooks.EventWorkflowStart, hookName, c.onWorkflowStart)
	hm.On(hooks.EventWorkflowComplete, hookName, c.onWorkflowComplete)
	hm.On(hooks.EventAgentsReloaded, hookName, c.onAgentsReloaded)
}

func outcome(p hooks.Payload) string {
	if p.Bool("success") {
		return "success"
	}
	if kind := p.Str("error_type"); kind != "" {
		return kind
	}
	return "failed"
}

func seconds(p hooks.Payload) float64 {
	ms, _ := p.Float("duration_ms")
	return ms / 1000
}

func (c *Collector) onDelegation(_ context.Context, p hooks.Payload) error {
	agent := p.Str("agent_id")
	c.DelegationAttempts.WithLabelValues(agent, p.Str("protocol"), outcome(p)).Inc()
	c.DelegationLatency.WithLabelValues(agent).Observe(seconds(p))
	return nil
}

func (c *Collector) onCacheHit(_ context.Context, p hooks.Payload) error {
	c.CacheHits.WithLabelValues(p.Str("agent_id")).Inc()
	return nil
}

func (c *Collector) onStreamChunk(_ context.Context, p hooks.Payload) error {
	c.StreamChunks.WithLabelValues(p.Str("agent_id")).Inc()
	return nil
}

func (c *Collector) onStreamComplete(_ context.Context, p hooks.Payload) error {
	c.Streams.WithLabelValues(p.Str("agent_id"), outcome(p)).Inc()
	return nil
}

func (c *Collector) onStepComplete(_ context.Context, p hooks.Payload) error {
	tool := p.Str("tool")
	status := "failed"
	if p.Bool("success") {
		status = "success"
	}
	c.StepsTotal.WithLabelValues(p.Str("workflow"), tool, status).Inc()
	c.StepDuration.WithLabelValues(tool).Observe(seconds(p))
	if n, ok := p.Float("attempts"); ok {
		c.StepAttempts.WithLabelValues(tool).Observe(n)
	}
	return nil
}

func (c *Collector) onStepSkipped(_ context.Context, p hooks.Payload) error {
	c.StepsTotal.WithLabelValues(p.Str("workflow"), p.Str("tool"), "skipped").Inc()
	return nil
}

func (c *Collector) onWorkflowStart(context.Context, hooks.Payload) error {
	c.Running.Inc()
	return nil
}

func (c *Collector) onWorkflowComplete(_ context.Context, p hooks.Payload) error {
	c.Running.Dec()
	name := p.Str("workflow")
	status := "failed"
	if p.Bool("success") {
		status = "success"
	}
	c.WorkflowsTotal.WithLabelValues(name, status).Inc()
	c.WorkflowTime.WithLabelValues(name).Observe(seconds(p))
	return nil
}

func (c *Collector) onAgentsReloaded(context.Context, hooks.Payload) error {
	c.AgentReloads.Inc()
	return nil
}

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/soyeahso/conductor/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attached(t *testing.T) (*Collector, *hooks.Manager) {
	t.Helper()
	c := New(false)
	hm := hooks.NewManager(logging.New(nil, "silent"))
	c.Attach(hm)
	return c, hm
}

func TestDelegationMetrics(t *testing.T) {
	c, hm := attached(t)
	ctx := context.Background()

	hm.Emit(ctx, hooks.EventDelegationComplete, map[string]any{
		"agent_id": "a1", "protocol": "http", "success": true, "duration_ms": 120.0,
	})
	hm.Emit(ctx, hooks.EventDelegationComplete, map[string]any{
		"agent_id": "a1", "protocol": "http", "success": false, "error_type": "server_error", "duration_ms": 5.0,
	})
	hm.Emit(ctx, hooks.EventDelegationCacheHit, map[string]any{"agent_id": "a1"})
	hm.Emit(ctx, hooks.EventStreamChunk, map[string]any{"agent_id": "a2"})
	hm.Emit(ctx, hooks.EventStreamChunk, map[string]any{"agent_id": "a2"})
	hm.Emit(ctx, hooks.EventStreamComplete, map[string]any{"agent_id": "a2", "success": true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.DelegationAttempts.WithLabelValues("a1", "http", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DelegationAttempts.WithLabelValues("a1", "http", "server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheHits.WithLabelValues("a1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.StreamChunks.WithLabelValues("a2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Streams.WithLabelValues("a2", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.DelegationLatency))
}

func TestWorkflowMetrics(t *testing.T) {
	c, hm := attached(t)
	log := logging.New(nil, "silent")

	exec := workflow.ToolExecutorFunc(func(_ context.Context, tool string, _ map[string]any) (any, error) {
		if tool == "bad" {
			return nil, errors.New("nope")
		}
		return "ok", nil
	})
	tmpl, err := workflow.NewTemplate("wf", "", []workflow.Step{
		{ID: "a", Tool: "good"},
		{ID: "b", Tool: "bad", DependsOn: []string{"a"}},
		{ID: "c", Tool: "good", DependsOn: []string{"b"}},
	})
	require.NoError(t, err)

	_, err = workflow.NewEngine(exec, log, workflow.WithObserver(hm)).Execute(context.Background(), tmpl, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.StepsTotal.WithLabelValues("wf", "good", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StepsTotal.WithLabelValues("wf", "bad", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StepsTotal.WithLabelValues("wf", "good", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WorkflowsTotal.WithLabelValues("wf", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Running))
}

func TestAgentReloads(t *testing.T) {
	c, hm := attached(t)
	hm.Emit(context.Background(), hooks.EventAgentsReloaded, map[string]any{"count": 2})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AgentReloads))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, hm := attached(t)
	hm.Emit(context.Background(), hooks.EventDelegationCacheHit, map[string]any{"agent_id": "a1"})

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rr.Code)
	assert.True(t, strings.Contains(string(body), `conductor_delegation_cache_hits_total{agent="a1"} 1`))
}

func TestRuntimeCollectors(t *testing.T) {
	c := New(true)
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

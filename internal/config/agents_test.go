package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentsYAML = `
agents:
  - agent_id: researcher
    name: Research Agent
    endpoint: ${TEST_RESEARCH_URL}
    protocol: http
    capabilities: [search, summarize]
    cost_estimate: 0.02
    latency_estimate: ${TEST_RESEARCH_LATENCY}
    input_schema:
      type: object
      properties:
        query: {type: string}
    metadata:
      tags:
        - web
        - ${TEST_RESEARCH_TAG}
      regions: [eu, "${TEST_RESEARCH_REGION}"]
      auth:
        type: bearer
        env: RESEARCH_TOKEN
  - agent_id: writer
    endpoint: ws://localhost:9000/write
    protocol: websocket
    supports_streaming: true
`

func TestParseAgents(t *testing.T) {
	t.Setenv("TEST_RESEARCH_URL", "https://research.example.com/run")
	t.Setenv("TEST_RESEARCH_LATENCY", "1.5")
	t.Setenv("TEST_RESEARCH_TAG", "prod")
	t.Setenv("TEST_RESEARCH_REGION", "us")

	doc, err := ParseAgents([]byte(agentsYAML))
	require.NoError(t, err)
	require.Len(t, doc.Agents, 2)

	r := doc.Agents[0]
	assert.Equal(t, "researcher", r.AgentID)
	assert.Equal(t, "Research Agent", r.Name)
	assert.Equal(t, "https://research.example.com/run", r.Endpoint)
	assert.Equal(t, []string{"search", "summarize"}, r.Capabilities)
	assert.InDelta(t, 0.02, r.CostEstimate, 1e-9)
	assert.InDelta(t, 1.5, r.LatencyEstimate, 1e-9)
	assert.Equal(t, []any{"web", "prod"}, r.Metadata["tags"])
	assert.Equal(t, []any{"eu", "us"}, r.Metadata["regions"])

	auth, ok := r.Metadata["auth"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bearer", auth["type"])

	w := doc.Agents[1]
	assert.Equal(t, "websocket", w.Protocol)
	assert.True(t, w.SupportsStreaming)
}

func TestParseAgents_UnsetVariableKept(t *testing.T) {
	doc, err := ParseAgents([]byte(`
agents:
  - agent_id: a
    endpoint: "http://${TEST_AGENT_UNSET_HOST}/x"
`))
	require.NoError(t, err)
	assert.Equal(t, "http://${TEST_AGENT_UNSET_HOST}/x", doc.Agents[0].Endpoint)
}

func TestParseAgents_JSON(t *testing.T) {
	doc, err := ParseAgents([]byte(`{"agents":[{"agent_id":"j","endpoint":"http://j","protocol":"sse"}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Agents, 1)
	assert.Equal(t, "sse", doc.Agents[0].Protocol)
}

func TestParseAgents_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", "agents: [unterminated"},
		{"missing endpoint", "agents:\n  - agent_id: a\n"},
		{"unknown protocol", "agents:\n  - agent_id: a\n    endpoint: x\n    protocol: grpc\n"},
		{"duplicate", "agents:\n  - agent_id: a\n    endpoint: x\n  - agent_id: a\n    endpoint: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAgents([]byte(tt.doc))
			require.Error(t, err)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestLoadAgents_MissingAndEmpty(t *testing.T) {
	doc, err := LoadAgents("/nonexistent/agents.yaml")
	require.NoError(t, err)
	assert.Empty(t, doc.Agents)

	doc, err = ParseAgents([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, doc.Agents)
}

func TestMergeAgents(t *testing.T) {
	fromFile := []AgentEntry{
		{AgentID: "a", Endpoint: "http://file-a"},
		{AgentID: "b", Endpoint: "http://file-b"},
	}
	inline := []AgentEntry{
		{AgentID: "b", Endpoint: "http://inline-b"},
		{AgentID: "c", Endpoint: "http://inline-c"},
	}

	merged := MergeAgents(fromFile, inline)
	require.Len(t, merged, 3)
	assert.Equal(t, "http://file-a", merged[0].Endpoint)
	assert.Equal(t, "http://inline-b", merged[1].Endpoint)
	assert.Equal(t, "c", merged[2].AgentID)
}

func TestWatchAgents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - agent_id: a\n    endpoint: http://a\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan AgentsDocument, 4)
	require.NoError(t, WatchAgents(ctx, path, func(doc AgentsDocument) {
		changes <- doc
	}, nil))

	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - agent_id: a\n    endpoint: http://a\n  - agent_id: b\n    endpoint: http://b\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case doc := <-changes:
			if len(doc.Agents) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for agents reload")
		}
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soyeahso/conductor/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command against an isolated conductor home.
func execute(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, home, args...)
}

func executeContext(ctx context.Context, t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONDUCTOR_HOME", home)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "conductor dev")
}

func TestConfigCmd(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, home, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config.yaml")+"\n", out)

	out, err = execute(t, home, "config", "set", "delegation.maxRetries", "5")
	require.NoError(t, err)
	assert.Equal(t, "Set delegation.maxRetries = 5\n", out)

	_, err = execute(t, home, "config", "set", "workflow.routes.summarize", "summarizer")
	require.NoError(t, err)

	out, err = execute(t, home, "config", "get", "delegation.maxRetries")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	out, err = execute(t, home, "config", "get", "workflow")
	require.NoError(t, err)
	assert.Contains(t, out, "summarize: summarizer")

	// the written file is picked up by the loader
	out, err = execute(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "retries=5")
	assert.Contains(t, out, "routes=1")

	out, err = execute(t, home, "config", "unset", "delegation.maxRetries")
	require.NoError(t, err)
	assert.Equal(t, "Unset delegation.maxRetries\n", out)

	_, err = execute(t, home, "config", "get", "delegation.maxRetries")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, home, "config", "get", "a..b")
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"-3", -3},
		{"0.5", 0.5},
		{"1abc", "1abc"},
		{"30s", "30s"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=bob", "n=3", "expr=a=b", "flag=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "bob", "n": 3, "expr": "a=b", "flag": true}, got)

	got, err = parseAssignments(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

const greetWorkflow = `name: greet
steps:
  - id: hello
    tool: echo
    parameters:
      greeting: "hi {{name}}"
  - id: wait
    tool: sleep
    parameters:
      duration: 1ms
  - id: reply
    tool: echo
    depends_on: [hello, wait]
    parameters:
      said: "{{hello.greeting}}"
`

func TestWorkflowValidate(t *testing.T) {
	home := t.TempDir()
	path := writeFile(t, home, "greet.yaml", greetWorkflow)

	out, err := execute(t, home, "workflow", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `Workflow "greet": 3 step(s) in 2 level(s)`)
	assert.Contains(t, out, "level 0: hello, wait")
	assert.Contains(t, out, "level 1: reply")

	cyclic := writeFile(t, home, "cycle.yaml", `name: loop
steps:
  - id: a
    tool: echo
    depends_on: [b]
  - id: b
    tool: echo
    depends_on: [a]
`)
	_, err = execute(t, home, "workflow", "validate", cyclic)
	assert.Error(t, err)
}

func TestWorkflowRun(t *testing.T) {
	home := t.TempDir()
	path := writeFile(t, home, "greet.yaml", greetWorkflow)

	out, err := execute(t, home, "workflow", "run", path, "--var", "name=bob", "--json")
	require.NoError(t, err)

	var got struct {
		Summary workflow.Summary          `json:"summary"`
		Results map[string]map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "greet", got.Summary.Workflow)
	assert.Equal(t, 3, got.Summary.Succeeded)
	assert.Equal(t, "hi bob", got.Results["hello"]["greeting"])
	assert.Equal(t, "hi bob", got.Results["reply"]["said"])

	out, err = execute(t, home, "workflow", "run", path, "--var", "name=ann")
	require.NoError(t, err)
	assert.Contains(t, out, "3 succeeded, 0 failed, 0 skipped")
}

func TestWorkflowRunFailure(t *testing.T) {
	home := t.TempDir()
	path := writeFile(t, home, "broken.yaml", `name: broken
steps:
  - id: first
    tool: no_such_tool
  - id: second
    tool: echo
    depends_on: [first]
`)

	out, err := execute(t, home, "workflow", "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 step(s) failed")
	assert.Contains(t, out, "0 succeeded, 1 failed, 1 skipped")
	assert.Contains(t, out, "tool not found")
}

func TestRecordRunsAndMine(t *testing.T) {
	home := t.TempDir()
	path := writeFile(t, home, "pipeline.yaml", `name: pipeline
steps:
  - id: fetch
    tool: echo
    parameters: {stage: fetch}
  - id: pause
    tool: sleep
    depends_on: [fetch]
    parameters: {duration: 1ms}
  - id: load
    tool: echo
    depends_on: [pause]
    parameters: {stage: load}
`)

	for range 3 {
		_, err := execute(t, home, "workflow", "run", path, "--record")
		require.NoError(t, err)
	}

	out, err := execute(t, home, "workflow", "runs")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "pipeline"))
	assert.Contains(t, out, "success")

	out, err = execute(t, home, "mine", "--json")
	require.NoError(t, err)
	var patterns []struct {
		Tools     []string `json:"tools"`
		Frequency int      `json:"frequency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &patterns))
	require.NotEmpty(t, patterns)
	assert.Equal(t, []string{"echo", "sleep", "echo"}, patterns[0].Tools)
	assert.Equal(t, 3, patterns[0].Frequency)
}

func etlRecords() string {
	var b strings.Builder
	for s := range 3 {
		for i, tool := range []string{"fetch_data", "transform_data", "load_data"} {
			fmt.Fprintf(&b, `{"session_id":"s%d","tool_name":%q,"success":true,"latency":0.1,"timestamp":"2026-03-01T10:0%d:0%dZ"}`+"\n",
				s, tool, s, i)
		}
	}
	return b.String()
}

func TestMineFromFile(t *testing.T) {
	home := t.TempDir()
	input := writeFile(t, home, "calls.jsonl", etlRecords())

	out, err := execute(t, home, "mine", "--input", input)
	require.NoError(t, err)
	assert.Contains(t, out, "fetch_data -> transform_data -> load_data")
	assert.Contains(t, out, "SCORE")

	out, err = execute(t, home, "mine", "--input", input, "--min-frequency", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "No patterns found in 9 record(s).")
}

func TestMineSuggest(t *testing.T) {
	home := t.TempDir()
	input := writeFile(t, home, "calls.jsonl", etlRecords())
	dest := filepath.Join(home, "etl.yaml")

	out, err := execute(t, home, "mine", "--input", input,
		"--suggest", "fetch_data,load_data", "--out", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "(3 steps)")

	tmpl, err := workflow.LoadTemplate(dest)
	require.NoError(t, err)
	require.Len(t, tmpl.Steps, 3)
	assert.Equal(t, "transform_data", tmpl.Steps[1].Tool)
	assert.Equal(t, []string{tmpl.Steps[0].ID}, tmpl.Steps[1].DependsOn)

	_, err = execute(t, home, "mine", "--input", input, "--suggest", "load_data,fetch_data")
	assert.ErrorContains(t, err, "no matching pattern")
}

func agentServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["task"] == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAgents(t *testing.T, home, endpoint string) {
	t.Helper()
	writeFile(t, home, "agents.yaml", fmt.Sprintf(`agents:
  - agent_id: summarizer
    name: Summarizer
    endpoint: %s
    protocol: http
    capabilities: [summarize, text]
  - agent_id: translator
    endpoint: %s
    protocol: sse
    capabilities: [translate]
    supports_streaming: true
`, endpoint, endpoint))
}

func TestAgentsList(t *testing.T) {
	home := t.TempDir()
	writeAgents(t, home, "http://127.0.0.1:1/agent")

	out, err := execute(t, home, "agents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "summarizer")
	assert.Contains(t, out, "translator")
	assert.Contains(t, out, "sse")

	out, err = execute(t, home, "agents", "list", "--capability", "translate", "--json")
	require.NoError(t, err)
	var agents []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "translator", agents[0]["agent_id"])

	out, err = execute(t, home, "agents", "list", "--capability", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "No agents registered.")
}

func TestDelegateCmd(t *testing.T) {
	home := t.TempDir()
	srv := agentServer(t, http.StatusOK, `{"summary":"short"}`)
	writeAgents(t, home, srv.URL)

	out, err := execute(t, home, "delegate", "summarizer", "summarize this", "--context", "lang=en")
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "short", result["summary"])

	out, err = execute(t, home, "delegate", "summarizer", "summarize this", "--json")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, true, resp["success"])

	_, err = execute(t, home, "delegate", "ghost", "anything")
	assert.Error(t, err)
}

func TestDelegateCmdFailure(t *testing.T) {
	home := t.TempDir()
	srv := agentServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	writeAgents(t, home, srv.URL)
	writeFile(t, home, "config.yaml", "delegation:\n  maxRetries: 0\n")

	_, err := execute(t, home, "delegate", "summarizer", "summarize this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 1 attempt(s)")
	assert.Contains(t, err.Error(), "server_error")
}

func TestStatusCmd(t *testing.T) {
	home := t.TempDir()
	writeAgents(t, home, "http://127.0.0.1:1/agent")

	out, err := execute(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Agents (2): summarizer, translator")
	assert.Contains(t, out, filepath.Join(home, "data", "conductor.db"))
	assert.NotContains(t, out, "Validation issues")
}

func TestServeStopsWithContext(t *testing.T) {
	home := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executeContext(ctx, t, home, "serve", "--addr", "127.0.0.1:0", "--watch=false")
	assert.NoError(t, err)
}

package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemplateValidation(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		steps   []Step
		opts    []TemplateOption
		step    string
		message string
	}{
		{
			name:    "missing name",
			steps:   []Step{{ID: "a", Tool: "echo"}},
			message: "name is required",
		},
		{
			name:    "no steps",
			tmpl:    "empty",
			message: "at least one step",
		},
		{
			name:    "missing id",
			tmpl:    "w",
			steps:   []Step{{Tool: "echo"}},
			message: "id is required",
		},
		{
			name:    "duplicate id",
			tmpl:    "w",
			steps:   []Step{{ID: "a", Tool: "echo"}, {ID: "a", Tool: "echo"}},
			step:    "a",
			message: "duplicate step id",
		},
		{
			name:    "missing tool",
			tmpl:    "w",
			steps:   []Step{{ID: "a"}},
			step:    "a",
			message: "tool is required",
		},
		{
			name:    "negative retries",
			tmpl:    "w",
			steps:   []Step{{ID: "a", Tool: "echo", RetryCount: -1}},
			step:    "a",
			message: "retry_count",
		},
		{
			name:    "unknown dependency",
			tmpl:    "w",
			steps:   []Step{{ID: "a", Tool: "echo", DependsOn: []string{"ghost"}}},
			step:    "a",
			message: `unknown step "ghost"`,
		},
		{
			name:    "unknown parallel group member",
			tmpl:    "w",
			steps:   []Step{{ID: "a", Tool: "echo"}},
			opts:    []TemplateOption{WithParallelGroups([]string{"a", "b"})},
			message: `unknown step "b"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTemplate(tt.tmpl, "", tt.steps, tt.opts...)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.step, verr.Step)
			assert.Contains(t, verr.Message, tt.message)
		})
	}
}

func TestNewTemplateCopiesSteps(t *testing.T) {
	steps := []Step{{ID: "a", Tool: "echo", Parameters: map[string]any{"k": "v"}}}
	tmpl, err := NewTemplate("w", "desc", steps, WithMetadata(map[string]any{"owner": "ops"}))
	require.NoError(t, err)

	steps[0].Parameters["k"] = "changed"
	assert.Equal(t, "v", tmpl.Steps[0].Parameters["k"])
	assert.Equal(t, "ops", tmpl.Metadata["owner"])

	s, ok := tmpl.Step("a")
	require.True(t, ok)
	assert.Equal(t, "echo", s.Tool)
	_, ok = tmpl.Step("b")
	assert.False(t, ok)
}

const pipelineYAML = `
name: pipeline
description: fetch and store
metadata:
  owner: data
parallel_groups:
  - [transform, audit]
steps:
  - id: fetch
    tool: http_get
    parameters:
      url: "{{source}}"
    retry_count: 2
    timeout: 30s
  - id: transform
    tool: jq
    depends_on: [fetch]
    parameters:
      input: "{{fetch.body}}"
  - id: audit
    tool: log
    depends_on: [fetch]
    timeout: 5
  - id: store
    tool: s3_put
    depends_on: [transform, audit]
    condition: "{{transform.ok}}"
`

func TestParseTemplateYAML(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, "pipeline", tmpl.Name)
	assert.Equal(t, "fetch and store", tmpl.Description)
	assert.Equal(t, "data", tmpl.Metadata["owner"])
	assert.Equal(t, [][]string{{"transform", "audit"}}, tmpl.ParallelGroups)
	require.Len(t, tmpl.Steps, 4)

	fetch := tmpl.Steps[0]
	assert.Equal(t, 2, fetch.RetryCount)
	assert.Equal(t, 30*time.Second, fetch.Timeout)
	assert.Equal(t, "{{source}}", fetch.Parameters["url"])

	assert.Equal(t, 5*time.Second, tmpl.Steps[2].Timeout)
	assert.Equal(t, []string{"transform", "audit"}, tmpl.Steps[3].DependsOn)
	assert.Equal(t, "{{transform.ok}}", tmpl.Steps[3].Condition)
}

func TestParseTemplateJSON(t *testing.T) {
	data := `{
  "name": "json-flow",
  "steps": [
    {"id": "a", "tool": "echo", "parameters": {"n": 1}},
    {"id": "b", "tool": "echo", "depends_on": ["a"], "timeout": 1.5}
  ]
}`
	tmpl, err := ParseTemplate([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "json-flow", tmpl.Name)
	assert.Equal(t, 1500*time.Millisecond, tmpl.Steps[1].Timeout)
	assert.Equal(t, 1, tmpl.Steps[0].Parameters["n"])
}

func TestParseTemplateErrors(t *testing.T) {
	_, err := ParseTemplate([]byte("steps: [unclosed"))
	assert.Error(t, err)

	_, err = ParseTemplate([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n    timeout: soon\n"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.Step)

	_, err = ParseTemplate([]byte("name: x\nsteps:\n  - id: a\n    tool: t\n    depends_on: [b]\n"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `step "a"`)
}

func TestLoadTemplateAndMarshalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)

	out, err := tmpl.Marshal()
	require.NoError(t, err)

	again, err := ParseTemplate(out)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps, again.Steps)
	assert.Equal(t, tmpl.ParallelGroups, again.ParallelGroups)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

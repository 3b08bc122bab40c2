package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fetchResult struct {
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

func TestSubstitute(t *testing.T) {
	vars := map[string]any{
		"region": "eu-west-1",
		"limit":  25,
		"cfg":    map[string]any{"bucket": "raw"},
	}
	results := map[string]any{
		"fetch": map[string]any{
			"items": []any{"x", "y", map[string]any{"id": 7}},
			"count": 3,
			"ok":    true,
		},
		"http": &fetchResult{StatusCode: 200, Body: "hi", Headers: map[string]string{"etag": "abc"}},
	}

	tests := []struct {
		name       string
		in         any
		want       any
		unresolved []string
	}{
		{"plain string", "no placeholders", "no placeholders", nil},
		{"variable keeps type", "{{limit}}", 25, nil},
		{"whitespace inside braces", "{{ region }}", "eu-west-1", nil},
		{"embedded variable", "region=${{region}}!", "region=$eu-west-1!", nil},
		{"step result path", "{{fetch.count}}", 3, nil},
		{"slice index", "{{fetch.items.1}}", "y", nil},
		{"nested in slice", "{{fetch.items.2.id}}", 7, nil},
		{"whole map", "{{fetch.items.2}}", map[string]any{"id": 7}, nil},
		{"embedded map renders json", "got {{fetch.items.2}}", `got {"id":7}`, nil},
		{"embedded bool", "ok={{fetch.ok}}", "ok=true", nil},
		{"struct json tag", "{{http.status_code}}", 200, nil},
		{"struct field name", "{{http.Body}}", "hi", nil},
		{"map of strings", "{{http.headers.etag}}", "abc", nil},
		{"variable path", "{{cfg.bucket}}", "raw", nil},
		{"unknown variable stays literal", "{{missing}}", "{{missing}}", []string{"missing"}},
		{"unknown field stays literal", "x {{fetch.nope}} y", "x {{fetch.nope}} y", []string{"fetch.nope"}},
		{"index out of range", "{{fetch.items.9}}", "{{fetch.items.9}}", []string{"fetch.items.9"}},
		{"partial resolution", "{{region}}/{{ghost}}", "eu-west-1/{{ghost}}", []string{"ghost"}},
		{"non-string passthrough", 42, 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unresolved := Substitute(tt.in, vars, results)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unresolved, unresolved)
		})
	}
}

func TestSubstituteNested(t *testing.T) {
	params := map[string]any{
		"target": "{{dest}}",
		"options": map[string]any{
			"retries": "{{n}}",
			"tags":    []any{"a", "{{dest}}-tag"},
		},
		"names": []string{"{{dest}}"},
	}
	got, unresolved := Substitute(params, map[string]any{"dest": "s3", "n": 2}, nil)
	assert.Empty(t, unresolved)
	assert.Equal(t, map[string]any{
		"target": "s3",
		"options": map[string]any{
			"retries": 2,
			"tags":    []any{"a", "s3-tag"},
		},
		"names": []any{"s3"},
	}, got)

	// the input is left untouched
	assert.Equal(t, "{{dest}}", params["target"])
}

func TestReferences(t *testing.T) {
	refs := References(map[string]any{
		"a": "{{x}} and {{ y.z }}",
		"b": []any{"{{x}}", 3},
	})
	assert.Equal(t, []string{"x", "y.z"}, refs)
}

func TestRender(t *testing.T) {
	assert.Equal(t, "", render(nil))
	assert.Equal(t, "1.5", render(1.5))
	assert.Equal(t, "3", render(float64(3)))
	assert.Equal(t, `["a","b"]`, render([]string{"a", "b"}))
}

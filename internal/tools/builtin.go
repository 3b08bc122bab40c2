package tools

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Echo returns a tool that answers with its own parameters.
func Echo() Tool {
	return &Func{
		ToolName: "echo",
		Desc:     "Returns its parameters unchanged",
		Schema:   map[string]any{"type": "object"},
		Fn: func(_ context.Context, params map[string]any) (any, error) {
			return maps.Clone(params), nil
		},
	}
}

// Sleep returns a tool that waits for params["duration"] ("250ms", or a
// number of seconds) and honors cancellation.
func Sleep() Tool {
	return &Func{
		ToolName: "sleep",
		Desc:     "Waits for the given duration",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"duration": map[string]any{"type": []any{"string", "number"}}},
			"required":   []any{"duration"},
		},
		Fn: func(ctx context.Context, params map[string]any) (any, error) {
			d, err := durationParam(params["duration"])
			if err != nil {
				return nil, err
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
				return map[string]any{"slept_ms": d.Milliseconds()}, nil
			}
		},
	}
}

// Builtins returns a registry holding the built-in tools.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(Echo())
	r.Register(Sleep())
	return r
}

func durationParam(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("duration must be a string or number, got %T", v)
	}
}

// Package tools provides the tool-execution capability used by workflows:
// local tools, delegation to agents, and remote tool servers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolNotFound is returned when no executor knows the tool.
var ErrToolNotFound = errors.New("tool not found")

// Tool is a locally executed capability.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns the JSON Schema for the tool's parameters.
	InputSchema() map[string]any

	// Execute runs the tool.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ToolDef is a serializable tool descriptor.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Executor runs tools by name. It satisfies workflow.ToolExecutor.
type Executor interface {
	Execute(ctx context.Context, tool string, params map[string]any) (any, error)
}

// Describer lists the tools an executor offers.
type Describer interface {
	Definitions(ctx context.Context) ([]ToolDef, error)
}

// Func adapts a function to Tool.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, params map[string]any) (any, error)
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.Desc }
func (f *Func) InputSchema() map[string]any { return f.Schema }

func (f *Func) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f.Fn(ctx, params)
}

// Registry holds local tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns descriptors for all registered tools, sorted by name.
func (r *Registry) Definitions(context.Context) ([]ToolDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Execute runs a registered tool.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, params)
}

// Chain tries each executor in order, moving on only when one reports
// ErrToolNotFound.
func Chain(executors ...Executor) Executor {
	return chain(executors)
}

type chain []Executor

func (c chain) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	for _, e := range c {
		res, err := e.Execute(ctx, tool, params)
		if errors.Is(err, ErrToolNotFound) {
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
}

// Definitions merges the descriptors of every executor that can describe
// itself. Earlier executors win on name clashes.
func (c chain) Definitions(ctx context.Context) ([]ToolDef, error) {
	seen := make(map[string]bool)
	var defs []ToolDef
	for _, e := range c {
		d, ok := e.(Describer)
		if !ok {
			continue
		}
		list, err := d.Definitions(ctx)
		if err != nil {
			return nil, err
		}
		for _, def := range list {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

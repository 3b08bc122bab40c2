package tools

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/delegation"
	"github.com/soyeahso/conductor/internal/workflow"
)

// Reserved parameter keys read by DelegationExecutor. Everything else is
// passed to the agent as task context.
const (
	ParamTask           = "task"
	ParamIdempotencyKey = "idempotency_key"
)

// DelegationExecutor runs tools by delegating to the agent of the same id,
// or to the agent named in Routes.
type DelegationExecutor struct {
	client *delegation.Client
	routes map[string]string
}

// NewDelegationExecutor creates an executor over the client. routes maps
// tool names to agent ids and may be nil.
func NewDelegationExecutor(client *delegation.Client, routes map[string]string) *DelegationExecutor {
	return &DelegationExecutor{client: client, routes: maps.Clone(routes)}
}

func (d *DelegationExecutor) agentFor(tool string) (id string, routed bool) {
	if id, ok := d.routes[tool]; ok {
		return id, true
	}
	return tool, false
}

// Execute delegates the tool call. A tool with no agent of its name reports
// ErrToolNotFound so a Chain can fall through. A tool routed to an agent
// that is not registered aborts the workflow. A failed delegation becomes
// an error.
func (d *DelegationExecutor) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	agentID, routed := d.agentFor(tool)
	if _, ok := d.client.Registry().Get(agentID); !ok {
		if routed {
			return nil, fmt.Errorf("%w: tool %s is routed to %w: %s",
				workflow.ErrAbort, tool, agent.ErrAgentNotFound, agentID)
		}
		return nil, fmt.Errorf("%w: %s (no agent %q)", ErrToolNotFound, tool, agentID)
	}

	req := delegation.Request{
		AgentID: agentID,
		Task:    tool,
		Context: make(map[string]any, len(params)),
	}
	for k, v := range params {
		switch k {
		case ParamTask:
			req.Task = fmt.Sprint(v)
		case ParamIdempotencyKey:
			req.IdempotencyKey = fmt.Sprint(v)
		default:
			req.Context[k] = v
		}
	}

	resp, err := d.client.Delegate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("agent %s failed after %d attempt(s) [%s]: %s",
			agentID, resp.Attempts(), resp.ErrorKind(), resp.ErrorMessage())
	}
	return resp.Result, nil
}

// Definitions describes every routed tool and every registered agent.
func (d *DelegationExecutor) Definitions(context.Context) ([]ToolDef, error) {
	agents := d.client.Registry().List()
	byID := make(map[string]int, len(agents))
	for i, a := range agents {
		byID[a.ID] = i
	}

	var defs []ToolDef
	seen := make(map[string]bool)
	add := func(name, agentID string) {
		i, ok := byID[agentID]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		a := agents[i]
		desc := a.Name
		if len(a.Capabilities) > 0 {
			desc += " (" + strings.Join(a.Capabilities, ", ") + ")"
		}
		defs = append(defs, ToolDef{Name: name, Description: desc, InputSchema: a.InputSchema})
	}
	for tool, agentID := range d.routes {
		add(tool, agentID)
	}
	for _, a := range agents {
		add(a.ID, a.ID)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

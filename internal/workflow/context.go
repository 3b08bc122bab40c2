package workflow

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of a step within one execution.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s StepStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Context is the run-time state of one workflow execution. It is safe for
// concurrent use by the steps of a level.
type Context struct {
	ExecutionID string
	Workflow    string

	mu        sync.RWMutex
	variables map[string]any
	results   map[string]any
	statuses  map[string]StepStatus
	errors    map[string]error
	attempts  map[string]int
	started   time.Time
	finished  time.Time
}

func newContext(t *Template, vars map[string]any) *Context {
	c := &Context{
		ExecutionID: uuid.NewString(),
		Workflow:    t.Name,
		variables:   maps.Clone(vars),
		results:     make(map[string]any),
		statuses:    make(map[string]StepStatus, len(t.Steps)),
		errors:      make(map[string]error),
		attempts:    make(map[string]int),
		started:     time.Now(),
	}
	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	for _, s := range t.Steps {
		c.statuses[s.ID] = StatusPending
	}
	return c
}

// Status returns a step's status, or "" for an unknown step.
func (c *Context) Status(stepID string) StepStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses[stepID]
}

// Result returns a successful step's result.
func (c *Context) Result(stepID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[stepID]
	return v, ok
}

// Err returns the last error of a failed step.
func (c *Context) Err(stepID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errors[stepID]
}

// Attempts returns how many times a step was invoked.
func (c *Context) Attempts(stepID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts[stepID]
}

// Variable returns an execution variable.
func (c *Context) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable adds or replaces an execution variable visible to later steps.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	c.variables[name] = value
	c.mu.Unlock()
}

// Statuses returns a copy of every step status.
func (c *Context) Statuses() map[string]StepStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.statuses)
}

// Results returns a copy of every successful step's result.
func (c *Context) Results() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.results)
}

// Succeeded reports whether no step failed.
func (c *Context) Succeeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if s == StatusFailed {
			return false
		}
	}
	return true
}

// Summary is a point-in-time digest of an execution.
type Summary struct {
	ExecutionID string                `json:"execution_id"`
	Workflow    string                `json:"workflow"`
	Steps       map[string]StepStatus `json:"steps"`
	Errors      map[string]string     `json:"errors,omitempty"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Skipped     int                   `json:"skipped"`
	Duration    time.Duration         `json:"duration"`
}

// Summary digests the execution.
func (c *Context) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		ExecutionID: c.ExecutionID,
		Workflow:    c.Workflow,
		Steps:       maps.Clone(c.statuses),
	}
	for id, st := range c.statuses {
		switch st {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		if err := c.errors[id]; err != nil {
			if s.Errors == nil {
				s.Errors = make(map[string]string)
			}
			s.Errors[id] = err.Error()
		}
	}
	end := c.finished
	if end.IsZero() {
		end = time.Now()
	}
	s.Duration = end.Sub(c.started)
	return s
}

// snapshot copies the namespaces used for substitution.
func (c *Context) snapshot() (vars, results map[string]any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.variables), maps.Clone(c.results)
}

func (c *Context) setStatus(stepID string, st StepStatus) {
	c.mu.Lock()
	c.statuses[stepID] = st
	c.mu.Unlock()
}

func (c *Context) succeed(stepID string, result any, attempts int) {
	c.mu.Lock()
	c.statuses[stepID] = StatusSuccess
	c.results[stepID] = result
	c.attempts[stepID] = attempts
	c.mu.Unlock()
}

func (c *Context) fail(stepID string, err error, attempts int) {
	c.mu.Lock()
	c.statuses[stepID] = StatusFailed
	c.errors[stepID] = err
	c.attempts[stepID] = attempts
	c.mu.Unlock()
}

func (c *Context) finish() {
	c.mu.Lock()
	c.finished = time.Now()
	c.mu.Unlock()
}

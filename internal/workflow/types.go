package workflow

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Step is one tool invocation in a template.
type Step struct {
	ID         string
	Tool       string
	Parameters map[string]any
	DependsOn  []string
	Condition  string
	RetryCount int
	Timeout    time.Duration
}

// Template is a validated, reusable multi-step plan.
type Template struct {
	Name           string
	Description    string
	Steps          []Step
	Metadata       map[string]any
	ParallelGroups [][]string
}

// ValidationError reports a malformed template or step.
type ValidationError struct {
	Template string
	Step     string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("workflow %q: step %q: %s", e.Template, e.Step, e.Message)
	}
	return fmt.Sprintf("workflow %q: %s", e.Template, e.Message)
}

// TemplateOption sets optional template fields.
type TemplateOption func(*Template)

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]any) TemplateOption {
	return func(t *Template) { t.Metadata = maps.Clone(md) }
}

// WithParallelGroups declares groups of steps intended to run together.
// Scheduling always follows the dependency levels; groups are checked for
// unknown members only.
func WithParallelGroups(groups ...[]string) TemplateOption {
	return func(t *Template) {
		for _, g := range groups {
			t.ParallelGroups = append(t.ParallelGroups, slices.Clone(g))
		}
	}
}

// NewTemplate builds and validates a template. Steps are copied.
func NewTemplate(name, description string, steps []Step, opts ...TemplateOption) (*Template, error) {
	t := &Template{
		Name:        name,
		Description: description,
		Steps:       make([]Step, len(steps)),
	}
	for i, s := range steps {
		s.Parameters = maps.Clone(s.Parameters)
		s.DependsOn = slices.Clone(s.DependsOn)
		t.Steps[i] = s
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the template invariants: a name, at least one step,
// unique non-empty ids, a tool per step, and dependencies that exist.
func (t *Template) Validate() error {
	fail := func(step, format string, args ...any) error {
		return &ValidationError{Template: t.Name, Step: step, Message: fmt.Sprintf(format, args...)}
	}

	if t.Name == "" {
		return fail("", "name is required")
	}
	if len(t.Steps) == 0 {
		return fail("", "at least one step is required")
	}

	ids := make(map[string]bool, len(t.Steps))
	for i, s := range t.Steps {
		if s.ID == "" {
			return fail("", "step %d: id is required", i+1)
		}
		if ids[s.ID] {
			return fail(s.ID, "duplicate step id")
		}
		ids[s.ID] = true
		if s.Tool == "" {
			return fail(s.ID, "tool is required")
		}
		if s.RetryCount < 0 {
			return fail(s.ID, "retry_count must be non-negative, got %d", s.RetryCount)
		}
		if s.Timeout < 0 {
			return fail(s.ID, "timeout must be non-negative, got %s", s.Timeout)
		}
	}

	for _, s := range t.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fail(s.ID, "depends on unknown step %q", dep)
			}
		}
	}

	for i, group := range t.ParallelGroups {
		for _, id := range group {
			if !ids[id] {
				return fail("", "parallel group %d references unknown step %q", i+1, id)
			}
		}
	}
	return nil
}

// Step returns the step with the given id.
func (t *Template) Step(id string) (*Step, bool) {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// templateDoc is the on-disk form of a template. JSON documents parse as
// YAML, so one shape serves both.
type templateDoc struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description,omitempty"`
	Steps          []stepDoc      `yaml:"steps"`
	Metadata       map[string]any `yaml:"metadata,omitempty"`
	ParallelGroups [][]string     `yaml:"parallel_groups,omitempty"`
}

type stepDoc struct {
	ID         string         `yaml:"id"`
	Tool       string         `yaml:"tool"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty"`
	Condition  string         `yaml:"condition,omitempty"`
	RetryCount int            `yaml:"retry_count,omitempty"`
	Timeout    any            `yaml:"timeout,omitempty"`
}

// ParseTemplate decodes a YAML or JSON template and validates it.
// Step timeouts accept duration strings ("30s") or a number of seconds.
func ParseTemplate(data []byte) (*Template, error) {
	var doc templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}

	steps := make([]Step, len(doc.Steps))
	for i, sd := range doc.Steps {
		timeout, err := parseTimeout(sd.Timeout)
		if err != nil {
			return nil, &ValidationError{Template: doc.Name, Step: sd.ID, Message: err.Error()}
		}
		steps[i] = Step{
			ID:         sd.ID,
			Tool:       sd.Tool,
			Parameters: sd.Parameters,
			DependsOn:  sd.DependsOn,
			Condition:  sd.Condition,
			RetryCount: sd.RetryCount,
			Timeout:    timeout,
		}
	}

	var opts []TemplateOption
	if doc.Metadata != nil {
		opts = append(opts, WithMetadata(doc.Metadata))
	}
	if len(doc.ParallelGroups) > 0 {
		opts = append(opts, WithParallelGroups(doc.ParallelGroups...))
	}
	return NewTemplate(doc.Name, doc.Description, steps, opts...)
}

// LoadTemplate reads and validates a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	return ParseTemplate(data)
}

// Marshal encodes the template as YAML in the form ParseTemplate reads.
func (t *Template) Marshal() ([]byte, error) {
	doc := templateDoc{
		Name:           t.Name,
		Description:    t.Description,
		Metadata:       t.Metadata,
		ParallelGroups: t.ParallelGroups,
		Steps:          make([]stepDoc, len(t.Steps)),
	}
	for i, s := range t.Steps {
		sd := stepDoc{
			ID:         s.ID,
			Tool:       s.Tool,
			Parameters: s.Parameters,
			DependsOn:  s.DependsOn,
			Condition:  s.Condition,
			RetryCount: s.RetryCount,
		}
		if s.Timeout > 0 {
			sd.Timeout = s.Timeout.String()
		}
		doc.Steps[i] = sd
	}
	return yaml.Marshal(doc)
}

func parseTimeout(v any) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		if t == "" {
			return 0, nil
		}
		if d, err := time.ParseDuration(t); err == nil {
			return d, nil
		}
		if secs, err := strconv.ParseFloat(t, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return 0, fmt.Errorf("invalid timeout %q", t)
	default:
		return 0, fmt.Errorf("invalid timeout %v", v)
	}
}

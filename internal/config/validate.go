package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Delegation validation
	d := cfg.Delegation
	if d.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "delegation.maxRetries",
			Message: fmt.Sprintf("must be >= 0, got %d", d.MaxRetries),
		})
	}
	if d.RetryBackoff < 0 {
		issues = append(issues, ValidationIssue{Path: "delegation.retryBackoff", Message: "must not be negative"})
	}
	if d.Timeout < 0 {
		issues = append(issues, ValidationIssue{Path: "delegation.timeout", Message: "must not be negative"})
	}
	if d.ChunkTimeout < 0 {
		issues = append(issues, ValidationIssue{Path: "delegation.chunkTimeout", Message: "must not be negative"})
	}
	if d.RateLimit < 0 {
		issues = append(issues, ValidationIssue{Path: "delegation.rateLimit", Message: "must not be negative"})
	}
	if d.CircuitBreaker.Threshold < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "delegation.circuitBreaker.threshold",
			Message: fmt.Sprintf("must be >= 1, got %d", d.CircuitBreaker.Threshold),
		})
	}
	if d.Idempotency.MaxSize < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "delegation.idempotency.maxSize",
			Message: fmt.Sprintf("must be >= 1, got %d", d.Idempotency.MaxSize),
		})
	}

	// Workflow validation
	if cfg.Workflow.MaxParallel < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "workflow.maxParallel",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Workflow.MaxParallel),
		})
	}

	for i, ts := range cfg.Workflow.ToolServers {
		if ts.URL == "" {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("workflow.toolServers[%d].url", i),
				Message: "url is required",
			})
		} else if !strings.HasPrefix(ts.URL, "http://") && !strings.HasPrefix(ts.URL, "https://") {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("workflow.toolServers[%d].url", i),
				Message: fmt.Sprintf("must be an http(s) URL, got %q", ts.URL),
			})
		}
	}
	for tool, agentID := range cfg.Workflow.Routes {
		if agentID == "" {
			issues = append(issues, ValidationIssue{
				Path:    "workflow.routes." + tool,
				Message: "agent id is required",
			})
		}
	}

	// Miner validation
	m := cfg.Miner
	if m.MinFrequency < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "miner.minFrequency",
			Message: fmt.Sprintf("must be >= 1, got %d", m.MinFrequency),
		})
	}
	if m.MinSuccessRate < 0 || m.MinSuccessRate > 1 {
		issues = append(issues, ValidationIssue{
			Path:    "miner.minSuccessRate",
			Message: fmt.Sprintf("must be within [0, 1], got %g", m.MinSuccessRate),
		})
	}
	if m.MaxSequenceLength < 2 {
		issues = append(issues, ValidationIssue{
			Path:    "miner.maxSequenceLength",
			Message: fmt.Sprintf("must be >= 2, got %d", m.MaxSequenceLength),
		})
	}

	// Agent validation
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		issues = append(issues, ValidateAgent(fmt.Sprintf("agents[%d]", i), a)...)
		if a.AgentID != "" && seen[a.AgentID] {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("agents[%d].agent_id", i),
				Message: fmt.Sprintf("duplicate agent id %q", a.AgentID),
			})
		}
		seen[a.AgentID] = true
	}

	return issues
}

// ValidateAgent checks a single agent entry. prefix is used to build issue paths.
func ValidateAgent(prefix string, a AgentEntry) []ValidationIssue {
	var issues []ValidationIssue
	if a.AgentID == "" {
		issues = append(issues, ValidationIssue{Path: prefix + ".agent_id", Message: "agent_id is required"})
	}
	if a.Endpoint == "" {
		issues = append(issues, ValidationIssue{Path: prefix + ".endpoint", Message: "endpoint is required"})
	}
	validProtocols := []string{"", "http", "sse", "websocket", "ws"}
	if !slices.Contains(validProtocols, strings.ToLower(a.Protocol)) {
		issues = append(issues, ValidationIssue{
			Path:    prefix + ".protocol",
			Message: fmt.Sprintf("must be one of [http sse websocket], got %q", a.Protocol),
		})
	}
	if a.CostEstimate < 0 {
		issues = append(issues, ValidationIssue{Path: prefix + ".cost_estimate", Message: "must not be negative"})
	}
	if a.LatencyEstimate < 0 {
		issues = append(issues, ValidationIssue{Path: prefix + ".latency_estimate", Message: "must not be negative"})
	}
	return issues
}

// Package agent describes remote agents and keeps the registry of agents
// available for delegation.
package agent

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Capability describes a remote agent: where it lives, how to talk to it
// and what it can do.
type Capability struct {
	ID                string         `json:"agent_id" yaml:"agent_id"`
	Name              string         `json:"name" yaml:"name"`
	Endpoint          string         `json:"endpoint" yaml:"endpoint"`
	Protocol          Protocol       `json:"protocol" yaml:"protocol"`
	Capabilities      []string       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	InputSchema       map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema      map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	CostEstimate      float64        `json:"cost_estimate,omitempty" yaml:"cost_estimate,omitempty"`
	LatencyEstimate   time.Duration  `json:"latency_estimate,omitempty" yaml:"latency_estimate,omitempty"`
	SupportsStreaming bool           `json:"supports_streaming,omitempty" yaml:"supports_streaming,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the fields required to delegate to the agent.
func (c Capability) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("agent %s: endpoint is required", c.ID)
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("agent %s: %w: %d", c.ID, ErrUnknownProtocol, int(c.Protocol))
	}
	return nil
}

// HasCapability reports whether the agent advertises the named capability.
func (c Capability) HasCapability(name string) bool {
	return slices.Contains(c.Capabilities, name)
}

// Tags returns the string tags listed under metadata.tags.
func (c Capability) Tags() []string {
	raw, ok := c.Metadata["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		var tags []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
		return tags
	default:
		return nil
	}
}

// HasAnyTag reports whether the agent carries at least one of the tags.
func (c Capability) HasAnyTag(tags []string) bool {
	own := c.Tags()
	for _, t := range tags {
		if slices.Contains(own, t) {
			return true
		}
	}
	return false
}

// AuthType selects how credentials are attached to agent requests.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
)

// DefaultAPIKeyHeader is the header used for api_key auth when none is set.
const DefaultAPIKeyHeader = "X-API-Key"

// AuthConfig names the environment variable holding an agent credential.
type AuthConfig struct {
	Type   AuthType
	Env    string
	Header string
}

// Auth returns the credential settings under metadata.auth, or nil when the
// agent needs none.
func (c Capability) Auth() (*AuthConfig, error) {
	raw, ok := c.Metadata["auth"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("agent %s: metadata.auth must be a mapping", c.ID)
	}

	auth := &AuthConfig{}
	typ, _ := m["type"].(string)
	auth.Env, _ = m["env"].(string)
	auth.Header, _ = m["header"].(string)

	switch AuthType(strings.ToLower(typ)) {
	case AuthBearer, "":
		auth.Type = AuthBearer
	case AuthAPIKey, "apikey":
		auth.Type = AuthAPIKey
		if auth.Header == "" {
			auth.Header = DefaultAPIKeyHeader
		}
	default:
		return nil, fmt.Errorf("agent %s: unsupported auth type %q", c.ID, typ)
	}
	if auth.Env == "" {
		return nil, fmt.Errorf("agent %s: metadata.auth.env is required", c.ID)
	}
	return auth, nil
}

package agent

import (
	"fmt"
	"time"

	"github.com/soyeahso/conductor/internal/config"
)

// FromConfig converts a config entry into a Capability.
func FromConfig(e config.AgentEntry) (Capability, error) {
	proto, err := ParseProtocol(e.Protocol)
	if err != nil {
		return Capability{}, fmt.Errorf("agent %s: %w", e.AgentID, err)
	}
	c := Capability{
		ID:                e.AgentID,
		Name:              e.Name,
		Endpoint:          e.Endpoint,
		Protocol:          proto,
		Capabilities:      e.Capabilities,
		InputSchema:       e.InputSchema,
		OutputSchema:      e.OutputSchema,
		CostEstimate:      e.CostEstimate,
		LatencyEstimate:   time.Duration(e.LatencyEstimate * float64(time.Second)),
		SupportsStreaming: e.SupportsStreaming,
		Metadata:          e.Metadata,
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if err := c.Validate(); err != nil {
		return Capability{}, err
	}
	return c, nil
}

// FromConfigAll converts every entry, stopping at the first invalid one.
func FromConfigAll(entries []config.AgentEntry) ([]Capability, error) {
	out := make([]Capability, 0, len(entries))
	for _, e := range entries {
		c, err := FromConfig(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Load builds the agent set from an agent document merged with inline
// config entries and installs it into the registry.
func Load(reg *Registry, path string, inline []config.AgentEntry) error {
	doc, err := config.LoadAgents(path)
	if err != nil {
		return err
	}
	agents, err := FromConfigAll(config.MergeAgents(doc.Agents, inline))
	if err != nil {
		return err
	}
	return reg.Replace(agents)
}

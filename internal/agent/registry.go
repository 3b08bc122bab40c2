package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/conductor/internal/logging"
)

// ErrAgentNotFound is returned when an agent id is not registered.
var ErrAgentNotFound = errors.New("agent not found")

// Registry holds the agents available for delegation, keyed by id.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]Capability
	generation uint64
	log        *logging.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		agents: make(map[string]Capability),
		log:    log.Sub("agents"),
	}
}

// Register adds or replaces an agent.
func (r *Registry) Register(c Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.agents[c.ID]
	r.agents[c.ID] = c
	r.generation++
	r.log.Info().
		Str("agent", c.ID).
		Str("protocol", c.Protocol.String()).
		Bool("replaced", replaced).
		Msg("registered agent")
	return nil
}

// Unregister removes an agent. Returns false if it was not registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return false
	}
	delete(r.agents, id)
	r.generation++
	r.log.Info().Str("agent", id).Msg("unregistered agent")
	return true
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[id]
	return c, ok
}

// Lookup is like Get but returns ErrAgentNotFound for unknown ids.
func (r *Registry) Lookup(id string) (Capability, error) {
	c, ok := r.Get(id)
	if !ok {
		return Capability{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return c, nil
}

// List returns all agents sorted by id.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.agents))
	for _, c := range r.agents {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Generation increases on every mutation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Replace swaps the whole agent set. Nothing changes if any agent is invalid.
func (r *Registry) Replace(agents []Capability) error {
	next := make(map[string]Capability, len(agents))
	for _, c := range agents {
		if err := c.Validate(); err != nil {
			return err
		}
		next[c.ID] = c
	}
	r.mu.Lock()
	r.agents = next
	r.generation++
	r.mu.Unlock()
	r.log.Info().Int("count", len(next)).Msg("agent registry replaced")
	return nil
}

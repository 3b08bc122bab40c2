package delegation

import (
	"slices"
	"time"

	"github.com/soyeahso/conductor/internal/agent"
)

// DiscoverOptions filters agent discovery.
type DiscoverOptions struct {
	Capability string        // keep agents advertising this capability
	Tags       []string      // keep agents carrying at least one of these tags
	UseCache   bool          // serve the agent list from the discovery cache when fresh
	CacheTTL   time.Duration // 0 uses the client default
}

type discoverySnapshot struct {
	agents     []agent.Capability
	refreshed  time.Time
	generation uint64
	valid      bool
}

// Discover lists agents matching the filters. The unfiltered list may come
// from a cache; filters are always applied afresh.
func (c *Client) Discover(opts DiscoverOptions) []agent.Capability {
	var all []agent.Capability
	if opts.UseCache {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = c.cfg.DiscoveryCacheTTL
		}
		all = c.cachedAgents(ttl)
	} else {
		all = c.reg.List()
	}

	out := make([]agent.Capability, 0, len(all))
	for _, a := range all {
		if opts.Capability != "" && !a.HasCapability(opts.Capability) {
			continue
		}
		if len(opts.Tags) > 0 && !a.HasAnyTag(opts.Tags) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Client) cachedAgents(ttl time.Duration) []agent.Capability {
	c.discMu.Lock()
	defer c.discMu.Unlock()

	now := c.now()
	gen := c.reg.Generation()
	if c.disc.valid && c.disc.generation == gen && now.Sub(c.disc.refreshed) < ttl {
		return slices.Clone(c.disc.agents)
	}

	agents := c.reg.List()
	c.disc = discoverySnapshot{
		agents:     agents,
		refreshed:  now,
		generation: gen,
		valid:      true,
	}
	return slices.Clone(agents)
}

func (c *Client) invalidateDiscovery() {
	c.discMu.Lock()
	c.disc = discoverySnapshot{}
	c.discMu.Unlock()
}

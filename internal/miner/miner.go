// Package miner finds recurring tool-call sequences in execution logs and
// turns them into workflow templates.
package miner

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
)

// ToolSequence is a mined pattern: an ordered run of tool calls and how it
// fared across sessions.
type ToolSequence struct {
	Tools         []string `json:"tools"`
	Frequency     int      `json:"frequency"`
	SuccessRate   float64  `json:"success_rate"`
	AvgDurationMS float64  `json:"avg_duration_ms"`
}

// Score ranks patterns: frequency weighted by success rate.
func (s ToolSequence) Score() float64 {
	return float64(s.Frequency) * s.SuccessRate
}

// Key identifies the ordered tool tuple.
func (s ToolSequence) Key() string {
	return strings.Join(s.Tools, " -> ")
}

// Options controls mining thresholds.
type Options struct {
	MinFrequency      int
	MinSuccessRate    float64
	MaxSequenceLength int
	// SessionBucket groups records without a session id by timestamp. It is
	// a heuristic: unrelated calls in the same bucket are mined together.
	SessionBucket time.Duration
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinFrequency:      3,
		MinSuccessRate:    0.7,
		MaxSequenceLength: 5,
		SessionBucket:     time.Minute,
	}
}

// OptionsFrom converts configuration, keeping defaults for unset fields.
func OptionsFrom(c config.MinerConfig) Options {
	o := DefaultOptions()
	if c.MinFrequency > 0 {
		o.MinFrequency = c.MinFrequency
	}
	if c.MinSuccessRate > 0 {
		o.MinSuccessRate = c.MinSuccessRate
	}
	if c.MaxSequenceLength > 0 {
		o.MaxSequenceLength = c.MaxSequenceLength
	}
	if c.SessionBucket > 0 {
		o.SessionBucket = c.SessionBucket
	}
	return o
}

// Miner extracts ranked tool sequences from call records.
type Miner struct {
	opts Options
	log  *logging.Logger
}

// New creates a miner. Zero or invalid options fall back to defaults.
func New(opts Options, log *logging.Logger) *Miner {
	def := DefaultOptions()
	if opts.MinFrequency < 1 {
		opts.MinFrequency = def.MinFrequency
	}
	if opts.MinSuccessRate < 0 {
		opts.MinSuccessRate = 0
	}
	if opts.MaxSequenceLength < 2 {
		opts.MaxSequenceLength = def.MaxSequenceLength
	}
	if opts.SessionBucket <= 0 {
		opts.SessionBucket = def.SessionBucket
	}
	return &Miner{opts: opts, log: log.Sub("miner")}
}

// Options returns the effective thresholds.
func (m *Miner) Options() Options { return m.opts }

// sessionKey returns the grouping key for a record.
func (m *Miner) sessionKey(r CallRecord) string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return "bucket:" + r.Timestamp.UTC().Truncate(m.opts.SessionBucket).Format(time.RFC3339)
}

// GroupSessions groups records by session id, bucketing records without
// one by timestamp. Each session is sorted chronologically; records with
// equal timestamps keep their input order.
func (m *Miner) GroupSessions(records []CallRecord) map[string][]CallRecord {
	sessions := make(map[string][]CallRecord)
	for _, r := range records {
		k := m.sessionKey(r)
		sessions[k] = append(sessions[k], r)
	}
	for _, recs := range sessions {
		slices.SortStableFunc(recs, func(a, b CallRecord) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	return sessions
}

type aggregate struct {
	tools     []string
	count     int
	successes int
	latency   float64
}

// Mine returns the sequences meeting both thresholds, best first (see Rank).
func (m *Miner) Mine(records []CallRecord) []ToolSequence {
	sessions := m.GroupSessions(records)

	// iterate sessions in key order so aggregation is reproducible
	keys := make([]string, 0, len(sessions))
	for k := range sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	aggs := make(map[string]*aggregate)
	for _, k := range keys {
		recs := sessions[k]
		for start := 0; start < len(recs); start++ {
			for n := 2; n <= m.opts.MaxSequenceLength && start+n <= len(recs); n++ {
				run := recs[start : start+n]
				tools := make([]string, n)
				ok := true
				var latency float64
				for i, r := range run {
					tools[i] = r.Tool
					ok = ok && r.Success
					latency += r.Latency
				}

				key := strings.Join(tools, " -> ")
				a := aggs[key]
				if a == nil {
					a = &aggregate{tools: tools}
					aggs[key] = a
				}
				a.count++
				if ok {
					a.successes++
				}
				a.latency += latency
			}
		}
	}

	patterns := make([]ToolSequence, 0, len(aggs))
	for _, a := range aggs {
		seq := ToolSequence{
			Tools:         a.tools,
			Frequency:     a.count,
			SuccessRate:   float64(a.successes) / float64(a.count),
			AvgDurationMS: a.latency / float64(a.count) * 1000,
		}
		if seq.Frequency < m.opts.MinFrequency || seq.SuccessRate < m.opts.MinSuccessRate {
			continue
		}
		patterns = append(patterns, seq)
	}
	Rank(patterns)

	m.log.Debug().
		Int("records", len(records)).
		Int("sessions", len(sessions)).
		Int("candidates", len(aggs)).
		Int("patterns", len(patterns)).
		Msg("mined tool sequences")
	return patterns
}

// Rank sorts patterns best first in place: by score, then frequency, then
// the longer sequence, then key.
func Rank(patterns []ToolSequence) {
	slices.SortFunc(patterns, func(a, b ToolSequence) int {
		if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Frequency, a.Frequency); c != 0 {
			return c
		}
		if c := cmp.Compare(len(b.Tools), len(a.Tools)); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
}

package miner

import (
	"testing"
	"time"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func rec(session, tool string, ok bool, latency float64, offset time.Duration) CallRecord {
	return CallRecord{SessionID: session, Tool: tool, Success: ok, Latency: latency, Timestamp: base.Add(offset)}
}

func newTestMiner(opts Options) *Miner {
	return New(opts, logging.New(nil, "silent"))
}

// etlLogs holds three sessions of fetch -> transform -> store.
func etlLogs() []CallRecord {
	var out []CallRecord
	for i, s := range []string{"s1", "s2", "s3"} {
		off := time.Duration(i) * time.Hour
		out = append(out,
			rec(s, "fetch", true, 0.5, off),
			rec(s, "transform", true, 0.25, off+time.Second),
			rec(s, "store", true, 0.25, off+2*time.Second),
		)
	}
	return out
}

func find(patterns []ToolSequence, key string) (ToolSequence, bool) {
	for _, p := range patterns {
		if p.Key() == key {
			return p, true
		}
	}
	return ToolSequence{}, false
}

func TestMineETLScenario(t *testing.T) {
	patterns := newTestMiner(DefaultOptions()).Mine(etlLogs())
	require.NotEmpty(t, patterns)

	top := patterns[0]
	assert.Equal(t, []string{"fetch", "transform", "store"}, top.Tools)
	assert.Equal(t, 3, top.Frequency)
	assert.Equal(t, 1.0, top.SuccessRate)

	full, ok := find(patterns, "fetch -> transform -> store")
	require.True(t, ok)
	assert.Equal(t, 3, full.Frequency)
	assert.Equal(t, 1.0, full.SuccessRate)
	assert.InDelta(t, 1000.0, full.AvgDurationMS, 1e-9)
	assert.Equal(t, top.Score(), full.Score())

	pair, ok := find(patterns, "transform -> store")
	require.True(t, ok)
	assert.InDelta(t, 500.0, pair.AvgDurationMS, 1e-9)
	assert.Len(t, patterns, 3)

	tmpl, err := SuggestWorkflow([]string{"fetch", "transform", "store"}, patterns)
	require.NoError(t, err)
	require.Len(t, tmpl.Steps, 3)
	assert.Equal(t, "step_1", tmpl.Steps[0].ID)
	assert.Equal(t, "fetch", tmpl.Steps[0].Tool)
	assert.Empty(t, tmpl.Steps[0].DependsOn)
	assert.Equal(t, []string{"step_1"}, tmpl.Steps[1].DependsOn)
	assert.Equal(t, []string{"step_2"}, tmpl.Steps[2].DependsOn)
	assert.Equal(t, true, tmpl.Metadata["auto_generated"])
	assert.Equal(t, 3, tmpl.Metadata["frequency"])
}

func TestMineThresholds(t *testing.T) {
	logs := []CallRecord{
		// a -> b: 3 occurrences, 2 succeed (0.67)
		rec("1", "a", true, 0, 0), rec("1", "b", true, 0, time.Second),
		rec("2", "a", true, 0, 0), rec("2", "b", true, 0, time.Second),
		rec("3", "a", true, 0, 0), rec("3", "b", false, 0, time.Second),
		// c -> d: 2 occurrences, all succeed
		rec("4", "c", true, 0, 0), rec("4", "d", true, 0, time.Second),
		rec("5", "c", true, 0, 0), rec("5", "d", true, 0, time.Second),
	}

	m := newTestMiner(DefaultOptions())
	assert.Empty(t, m.Mine(logs), "below frequency or success rate never appears")

	loose := newTestMiner(Options{MinFrequency: 2, MinSuccessRate: 0.6})
	patterns := loose.Mine(logs)
	require.Len(t, patterns, 2)
	ab, ok := find(patterns, "a -> b")
	require.True(t, ok)
	assert.Equal(t, 3, ab.Frequency)
	assert.InDelta(t, 2.0/3.0, ab.SuccessRate, 1e-9)
	_, ok = find(patterns, "c -> d")
	assert.True(t, ok)
}

func TestMineRespectsMaxSequenceLength(t *testing.T) {
	var logs []CallRecord
	for _, s := range []string{"x", "y", "z"} {
		for i, tool := range []string{"t1", "t2", "t3", "t4"} {
			logs = append(logs, rec(s, tool, true, 0.1, time.Duration(i)*time.Second))
		}
	}

	patterns := newTestMiner(Options{MinFrequency: 3, MinSuccessRate: 0.7, MaxSequenceLength: 2}).Mine(logs)
	for _, p := range patterns {
		assert.Len(t, p.Tools, 2)
	}
	assert.Len(t, patterns, 3)

	all := newTestMiner(Options{MinFrequency: 3, MinSuccessRate: 0.7, MaxSequenceLength: 10}).Mine(logs)
	// 3 pairs + 2 triples + 1 quadruple
	assert.Len(t, all, 6)
}

func TestMineSortsSessionsChronologically(t *testing.T) {
	var logs []CallRecord
	for _, s := range []string{"p", "q", "r"} {
		// written out of order
		logs = append(logs,
			rec(s, "second", true, 0, 2*time.Second),
			rec(s, "first", true, 0, time.Second),
		)
	}
	patterns := newTestMiner(DefaultOptions()).Mine(logs)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"first", "second"}, patterns[0].Tools)
}

func TestMineDeterministic(t *testing.T) {
	m := newTestMiner(Options{MinFrequency: 1, MinSuccessRate: 0})
	logs := etlLogs()
	first := m.Mine(logs)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Mine(logs))
	}
}

// Bucketing records without a session id by minute is an approximation;
// these cases pin the current heuristic rather than a session guarantee.
func TestGroupSessionsMinuteBucketHeuristic(t *testing.T) {
	m := newTestMiner(DefaultOptions())
	logs := []CallRecord{
		{Tool: "a", Timestamp: base.Add(10 * time.Second)},
		{Tool: "b", Timestamp: base.Add(50 * time.Second)},
		{Tool: "c", Timestamp: base.Add(70 * time.Second)},
		{SessionID: "explicit", Tool: "d", Timestamp: base.Add(20 * time.Second)},
	}

	sessions := m.GroupSessions(logs)
	require.Len(t, sessions, 3)

	first := sessions["bucket:"+base.Format(time.RFC3339)]
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Tool)
	assert.Equal(t, "b", first[1].Tool)
	assert.Len(t, sessions["bucket:"+base.Add(time.Minute).Format(time.RFC3339)], 1)
	assert.Len(t, sessions["explicit"], 1)

	// a sequence spanning a minute boundary is split across buckets
	split := newTestMiner(Options{MinFrequency: 1, MinSuccessRate: 0}).Mine(logs[1:3])
	assert.Empty(t, split)
}

func TestNewNormalizesOptions(t *testing.T) {
	m := newTestMiner(Options{MinSuccessRate: -1})
	o := m.Options()
	assert.Equal(t, 3, o.MinFrequency)
	assert.Equal(t, 0.0, o.MinSuccessRate)
	assert.Equal(t, 5, o.MaxSequenceLength)
	assert.Equal(t, time.Minute, o.SessionBucket)
}

func TestOptionsFrom(t *testing.T) {
	o := OptionsFrom(config.MinerConfig{MinFrequency: 5, SessionBucket: 5 * time.Minute})
	assert.Equal(t, 5, o.MinFrequency)
	assert.Equal(t, 0.7, o.MinSuccessRate)
	assert.Equal(t, 5, o.MaxSequenceLength)
	assert.Equal(t, 5*time.Minute, o.SessionBucket)
}

func TestRankTieBreaks(t *testing.T) {
	patterns := []ToolSequence{
		{Tools: []string{"b", "c"}, Frequency: 4, SuccessRate: 0.5},
		{Tools: []string{"x", "y"}, Frequency: 2, SuccessRate: 1},
		{Tools: []string{"a", "c"}, Frequency: 4, SuccessRate: 0.5},
		{Tools: []string{"z", "z"}, Frequency: 10, SuccessRate: 1},
		{Tools: []string{"c", "c", "c"}, Frequency: 4, SuccessRate: 0.5},
	}
	Rank(patterns)

	keys := make([]string, len(patterns))
	for i, p := range patterns {
		keys[i] = p.Key()
	}
	assert.Equal(t, []string{"z -> z", "c -> c -> c", "a -> c", "b -> c", "x -> y"}, keys)
}

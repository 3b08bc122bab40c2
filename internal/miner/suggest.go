package miner

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/conductor/internal/workflow"
)

// ErrNoPattern means no mined pattern covers the requested tools.
var ErrNoPattern = errors.New("no matching pattern")

// SuggestWorkflow builds a linear workflow from the pattern that best covers
// target. An exact match wins; otherwise the first pattern, in the given
// order, that contains target as an ordered (not necessarily contiguous)
// subsequence is used.
func SuggestWorkflow(target []string, patterns []ToolSequence) (*workflow.Template, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("%w: empty target", ErrNoPattern)
	}

	match := -1
	for i, p := range patterns {
		if slices.Equal(p.Tools, target) {
			match = i
			break
		}
	}
	if match < 0 {
		for i, p := range patterns {
			if isSubsequence(target, p.Tools) {
				match = i
				break
			}
		}
	}
	if match < 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoPattern, strings.Join(target, " -> "))
	}
	return templateFor(patterns[match])
}

func templateFor(p ToolSequence) (*workflow.Template, error) {
	steps := make([]workflow.Step, len(p.Tools))
	for i, tool := range p.Tools {
		steps[i] = workflow.Step{
			ID:   fmt.Sprintf("step_%d", i+1),
			Tool: tool,
		}
		if i > 0 {
			steps[i].DependsOn = []string{steps[i-1].ID}
		}
	}

	name := "auto_" + strings.Join(p.Tools, "_")
	desc := fmt.Sprintf("Generated from a pattern seen %d times (%.0f%% success)", p.Frequency, p.SuccessRate*100)
	return workflow.NewTemplate(name, desc, steps, workflow.WithMetadata(map[string]any{
		"auto_generated":  true,
		"frequency":       p.Frequency,
		"success_rate":    p.SuccessRate,
		"avg_duration_ms": p.AvgDurationMS,
		"source_pattern":  slices.Clone(p.Tools),
	}))
}

// isSubsequence reports whether needle appears in haystack in order.
func isSubsequence(needle, haystack []string) bool {
	i := 0
	for _, h := range haystack {
		if i < len(needle) && h == needle[i] {
			i++
		}
	}
	return i == len(needle)
}

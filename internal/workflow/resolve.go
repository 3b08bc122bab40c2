package workflow

import (
	"fmt"
	"strings"
)

// CycleError reports steps that could not be placed in any level.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among steps: %s", strings.Join(e.Steps, ", "))
}

// ResolveLevels groups steps into execution levels. Every step lands in a
// later level than all of its dependencies, and steps keep their declared
// order within a level.
func ResolveLevels(t *Template) ([][]*Step, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(t.Steps))
	dependents := make(map[string][]string, len(t.Steps))
	for _, s := range t.Steps {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	placed := make(map[string]bool, len(t.Steps))
	var levels [][]*Step
	for len(placed) < len(t.Steps) {
		var level []*Step
		for i := range t.Steps {
			s := &t.Steps[i]
			if !placed[s.ID] && inDegree[s.ID] == 0 {
				level = append(level, s)
			}
		}
		if len(level) == 0 {
			var remaining []string
			for _, s := range t.Steps {
				if !placed[s.ID] {
					remaining = append(remaining, s.ID)
				}
			}
			return nil, &CycleError{Steps: remaining}
		}

		for _, s := range level {
			placed[s.ID] = true
			for _, d := range dependents[s.ID] {
				inDegree[d]--
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

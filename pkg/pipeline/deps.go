package pipeline

import (
	"fmt"
	"strings"
)

// positionalAlias returns the alias under which a record can be referenced by
// position: tool_0, tool_1, ... in registration order. Models that do not
// echo real call ids tend to refer to earlier calls this way.
func positionalAlias(index int) string {
	return fmt.Sprintf("tool_%d", index)
}

// inferDependencies scans the serialized input of a new record for the ids
// (or positional aliases) of already registered records and returns the
// matched ids in registration order.
//
// This is a textual heuristic, not a semantic reference check: an actual
// data dependency that is not textually visible is missed, and a
// coincidental substring collision creates a spurious edge. Callers that
// know the real dependency structure should pass it explicitly through
// AddRecordWithDeps instead.
func inferDependencies(rawInput string, prior []*Record) []string {
	if rawInput == "" || len(prior) == 0 {
		return nil
	}
	var deps []string
	for i, p := range prior {
		if p.ID != "" && strings.Contains(rawInput, p.ID) {
			deps = append(deps, p.ID)
			continue
		}
		if strings.Contains(rawInput, positionalAlias(i)) {
			deps = append(deps, p.ID)
		}
	}
	return deps
}

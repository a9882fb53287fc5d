package compact

import (
	"github.com/go-go-golems/parley/pkg/turns"
)

// Retention tiers. System directives must survive compaction longest, then
// turns carrying tool results, then user prompts, then assistant prose.
const (
	baseSystem     = 90.0
	baseToolResult = 75.0
	baseUser       = 55.0
	baseAssistant  = 40.0

	// recencyBonusMax is the linear bonus for turns near the end of history.
	recencyBonusMax = 30.0
)

// Rank assigns a retention priority to a turn at the given position in a
// history of total turns. Priority governs inclusion during compaction,
// never ordering.
func Rank(t turns.Turn, position int, total int) float64 {
	base := baseAssistant
	switch {
	case t.Role() == turns.RoleSystem:
		base = baseSystem
	case t.HasToolResults():
		base = baseToolResult
	case t.Role() == turns.RoleUser:
		base = baseUser
	}

	bonus := 0.0
	if total > 1 {
		bonus = recencyBonusMax * float64(position) / float64(total-1)
	}
	return base + bonus
}

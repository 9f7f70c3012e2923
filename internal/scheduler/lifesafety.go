package scheduler

import (
	"strings"

	"github.com/sentineldispatch/core/internal/model"
)

var lifeSafetySubstrings = []string{
	"glassbreak", "smoke", "co", "carbon_monoxide",
	"forced_entry", "emergency", "alarm", "break_in",
}

var doorLocations = map[string]bool{
	"front_door": true,
	"back_door":  true,
}

// isLifeSafetyEvent mirrors the source's explainer substring match,
// mode check, and door+CRITICAL rule.
func isLifeSafetyEvent(c *model.EventCandidate) bool {
	switch c.Mode {
	case "emergency", "alarm":
		return true
	}

	explainer := strings.ToLower(c.LiteExplainer)
	for _, substr := range lifeSafetySubstrings {
		if strings.Contains(explainer, substr) {
			return true
		}
	}

	if doorLocations[c.Location] && c.Priority == model.PriorityCritical {
		return true
	}

	return false
}

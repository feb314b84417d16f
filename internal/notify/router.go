package notify

import (
	"strings"

	"chip-settlement/internal/events"
	"chip-settlement/internal/monitor"
)

type Router struct{}

func (r Router) MatchTargets(targets []Target, ev events.Event) []Target {
	if len(targets) == 0 {
		return nil
	}
	out := make([]Target, 0, len(targets))
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		if !scopeMatches(target, ev) {
			continue
		}
		if !eventAllowed(target.EventAllowlist, string(ev.Kind)) {
			continue
		}
		if !severityAllowed(target.MinSeverity, ev) {
			continue
		}
		out = append(out, target)
	}
	return out
}

func scopeMatches(target Target, ev events.Event) bool {
	switch target.ScopeType {
	case "all":
		return true
	case "address":
		return target.ScopeValue != "" && target.ScopeValue == ev.Address
	default:
		return false
	}
}

func eventAllowed(allowlist []string, kind string) bool {
	if len(allowlist) == 0 {
		return true
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, v := range allowlist {
		if v == "" {
			continue
		}
		if strings.ToLower(strings.TrimSpace(v)) == kind {
			return true
		}
	}
	return false
}

// severityAllowed filters alerts below the target's floor. Other event
// kinds have no severity and always pass.
func severityAllowed(min string, ev events.Event) bool {
	if min == "" {
		return true
	}
	alert, ok := ev.Data.(events.AlertRaised)
	if !ok {
		return true
	}
	return monitor.SeverityRank(alert.Severity) >= monitor.SeverityRank(min)
}

// Package grouping decides which signal groups are shown and in what order,
// and orders signals inside a group.
package grouping

import (
	"github.com/ehr/abstractor/internal/domain/signal"
)

// ResolveVisibleGroups returns the groups to render, in order.
//
// With a non-empty explicit order, that order is authoritative: names it lists that
// are not visible are dropped, and visible names it omits are not
// appended. Without one, allGroupNames is filtered to names not explicitly
// hidden (visibility[name] == false).
func ResolveVisibleGroups(allGroupNames []string, visibility map[string]bool, explicitOrder []string) []string {
	explicit := len(explicitOrder) > 0
	source := allGroupNames
	if explicit {
		source = explicitOrder
	}
	out := make([]string, 0, len(source))
	seen := make(map[string]bool, len(source))
	for _, name := range source {
		if seen[name] {
			continue
		}
		if visible, set := visibility[name]; set && !visible {
			continue
		}
		if explicit && !contains(allGroupNames, name) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// OrderSignals places signals in fieldOrder, matching each entry by id or
// label (first unused match wins). Signals not named in fieldOrder follow
// in their catalog order. The input slice is not modified.
func OrderSignals(signals []signal.Signal, fieldOrder []string) []signal.Signal {
	if len(fieldOrder) == 0 {
		out := make([]signal.Signal, len(signals))
		copy(out, signals)
		return out
	}
	used := make([]bool, len(signals))
	out := make([]signal.Signal, 0, len(signals))
	for _, key := range fieldOrder {
		for i, s := range signals {
			if used[i] {
				continue
			}
			if s.ID == key || s.Label == key {
				used[i] = true
				out = append(out, s)
				break
			}
		}
	}
	for i, s := range signals {
		if !used[i] {
			out = append(out, s)
		}
	}
	return out
}

// IsActive reports whether any of the group's signals evaluated to a status
// other than inactive. Signals without a result count as inactive.
func IsActive(g signal.SignalGroup, results map[string]signal.SignalResult) bool {
	for _, s := range g.Signals {
		if r, ok := results[s.ID]; ok && r.Status != signal.StatusInactive {
			return true
		}
	}
	return false
}

// ActiveGroups filters groups to those with at least one non-inactive
// signal, reporting each suppressed group to obs. It must run after
// evaluation.
func ActiveGroups(groups []signal.SignalGroup, results map[string]signal.SignalResult, obs signal.Observer) []signal.SignalGroup {
	if obs == nil {
		obs = signal.NopObserver{}
	}
	out := make([]signal.SignalGroup, 0, len(groups))
	for _, g := range groups {
		if IsActive(g, results) {
			out = append(out, g)
			continue
		}
		obs.Observe(signal.Event{
			Kind:   signal.EventGroupFiltered,
			Group:  g.GroupName,
			Status: signal.StatusInactive,
			Detail: "no active signals",
		})
	}
	return out
}

// GroupNames lists group names in slice order.
func GroupNames(groups []signal.SignalGroup) []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.GroupName
	}
	return names
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

package grouping

import (
	"github.com/ehr/abstractor/internal/domain/signal"
)

// DisplayConfig is the per-metric presentation configuration.
type DisplayConfig struct {
	// VisibleGroups hides a group when its entry is false. Missing entries
	// are visible.
	VisibleGroups map[string]bool `json:"visibleGroups,omitempty" yaml:"visible_groups"`
	// GroupOrder, when set, is the authoritative group order.
	GroupOrder []string `json:"groupOrder,omitempty" yaml:"group_order"`
	// FieldOrder orders signals inside a group by id or label.
	FieldOrder map[string][]string `json:"fieldOrder,omitempty" yaml:"field_order"`
}

// RenderedSignal pairs a catalog signal with its evaluation.
type RenderedSignal struct {
	signal.Signal
	Result signal.SignalResult `json:"result"`
}

// RenderedGroup is a display-ready group.
type RenderedGroup struct {
	GroupName    string           `json:"groupName"`
	DisplayOrder int              `json:"displayOrder"`
	Signals      []RenderedSignal `json:"signals"`
}

// Arrange builds the active, ordered view of evaluated groups: groups are
// sorted by DisplayOrder, filtered and ordered by the display config, then
// groups without any active signal are dropped. Signals inside each group
// follow the configured field order.
func Arrange(groups []signal.SignalGroup, results map[string]signal.SignalResult, cfg DisplayConfig, obs signal.Observer) []RenderedGroup {
	sorted := signal.SortGroups(groups)
	byName := make(map[string]signal.SignalGroup, len(sorted))
	for _, g := range sorted {
		if _, dup := byName[g.GroupName]; !dup {
			byName[g.GroupName] = g
		}
	}

	names := ResolveVisibleGroups(GroupNames(sorted), cfg.VisibleGroups, cfg.GroupOrder)
	visible := make([]signal.SignalGroup, 0, len(names))
	for _, name := range names {
		visible = append(visible, byName[name])
	}

	active := ActiveGroups(visible, results, obs)
	out := make([]RenderedGroup, 0, len(active))
	for _, g := range active {
		ordered := OrderSignals(g.Signals, cfg.FieldOrder[g.GroupName])
		rg := RenderedGroup{
			GroupName:    g.GroupName,
			DisplayOrder: g.DisplayOrder,
			Signals:      make([]RenderedSignal, 0, len(ordered)),
		}
		for _, s := range ordered {
			res, ok := results[s.ID]
			if !ok {
				res = signal.SignalResult{ID: s.ID, Status: signal.StatusInactive}
			}
			rg.Signals = append(rg.Signals, RenderedSignal{Signal: s, Result: res})
		}
		out = append(out, rg)
	}
	return out
}

package signal

import (
	"sort"
)

// Status is the evaluated state of a single signal.
type Status string

const (
	StatusPass     Status = "pass"
	StatusFail     Status = "fail"
	StatusCaution  Status = "caution"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusCaution, StatusInactive:
		return true
	}
	return false
}

// Signal is a catalog entry. It belongs to exactly one group.
type Signal struct {
	ID         string `json:"id" yaml:"id"`
	Label      string `json:"label" yaml:"label"`
	Group      string `json:"group" yaml:"group"`
	Definition string `json:"definition,omitempty" yaml:"definition"`
	Rule       string `json:"rule,omitempty" yaml:"rule"`
	Tooltip    string `json:"tooltip,omitempty" yaml:"tooltip"`
	// Family pins the fallback evaluator. Empty means classify by id.
	Family string `json:"family,omitempty" yaml:"family"`
}

// SignalGroup is a display bucket of signals.
type SignalGroup struct {
	GroupName    string   `json:"groupName" yaml:"group_name"`
	DisplayOrder int      `json:"displayOrder" yaml:"display_order"`
	Signals      []Signal `json:"signals" yaml:"signals"`
}

// SignalResult is the evaluation of one signal for one case.
type SignalResult struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Evidence []string `json:"evidence,omitempty"`
	Cites    []string `json:"cites,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// SortGroups orders groups by ascending DisplayOrder, keeping catalog order
// for ties. The input slice is not modified.
func SortGroups(groups []SignalGroup) []SignalGroup {
	out := make([]SignalGroup, len(groups))
	copy(out, groups)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

// Flatten returns every signal across groups in group order.
func Flatten(groups []SignalGroup) []Signal {
	var out []Signal
	for _, g := range groups {
		out = append(out, g.Signals...)
	}
	return out
}

// Package timerule computes elapsed time between two case timestamps and
// judges it against a per-module target.
package timerule

import (
	"fmt"
	"math"
	"time"

	"github.com/ehr/abstractor/internal/platform/payload"
)

// Result is the outcome of resolving a module's time rule against a case.
// DeltaMinutes is nil whenever Status is inactive.
type Result struct {
	ModuleID     string    `json:"moduleId"`
	DeltaMinutes *int64    `json:"deltaMinutes"`
	Status       Status    `json:"status"`
	TargetMet    bool      `json:"targetMet"`
	Critical     bool      `json:"critical,omitempty"`
	Display      string    `json:"display,omitempty"`
	Rule         *TimeRule `json:"rule,omitempty"`
}

// DeltaHours returns the elapsed hours, or 0 when inactive.
func (r Result) DeltaHours() float64 {
	if r.DeltaMinutes == nil {
		return 0
	}
	return float64(*r.DeltaMinutes) / 60
}

// Resolver evaluates time rules. It holds only immutable configuration and is
// safe for concurrent use.
type Resolver struct {
	rules  RuleSet
	fields *payload.Fields
}

// NewResolver creates a resolver. A nil fields table uses the standard
// timestamp schemas.
func NewResolver(rules RuleSet, fields *payload.Fields) *Resolver {
	if fields == nil {
		fields = payload.StandardFields()
	}
	if rules == nil {
		rules = RuleSet{}
	}
	return &Resolver{rules: rules, fields: fields}
}

// Rule returns the configured rule for a module.
func (r *Resolver) Rule(moduleID string) (TimeRule, bool) {
	rule, ok := r.rules[moduleID]
	return rule, ok
}

// Resolve computes the elapsed time and verdict for moduleID. Missing
// configuration or unusable timestamps yield an inactive result.
func (r *Resolver) Resolve(moduleID string, p payload.Payload) Result {
	inactive := Result{ModuleID: moduleID, Status: StatusInactive}

	rule, ok := r.rules[moduleID]
	if !ok {
		return inactive
	}
	inactive.Rule = &rule

	start, ok := r.fields.Time(p, rule.StartField)
	if !ok {
		return inactive
	}
	end, ok := r.fields.Time(p, rule.EndField)
	if !ok {
		return inactive
	}

	minutes := ElapsedMinutes(start, end)
	res := Judge(rule, minutes)
	res.ModuleID = moduleID
	res.Rule = &rule
	return res
}

// Judge applies a rule to an already computed elapsed time.
func Judge(rule TimeRule, minutes int64) Result {
	hours := float64(minutes) / 60
	res := Result{
		DeltaMinutes: &minutes,
		TargetMet:    hours <= rule.TargetHours,
		Display:      FormatHours(minutes),
	}
	switch {
	case res.TargetMet:
		res.Status = StatusPass
	case rule.WarningThresholdHours != nil && hours <= *rule.WarningThresholdHours:
		res.Status = StatusWarning
	default:
		res.Status = StatusFail
	}
	if rule.CriticalThresholdHours != nil && hours > *rule.CriticalThresholdHours {
		res.Critical = true
	}
	return res
}

// ElapsedMinutes rounds end-start to whole minutes, half up. Reversed
// timestamps clamp to zero.
func ElapsedMinutes(start, end time.Time) int64 {
	ms := float64(end.Sub(start).Milliseconds())
	minutes := int64(math.Floor(ms/60000 + 0.5))
	if minutes < 0 {
		return 0
	}
	return minutes
}

// FormatHours renders minutes as hours with one decimal, rounded half up.
func FormatHours(minutes int64) string {
	tenths := math.Floor(float64(minutes)*10/60 + 0.5)
	return fmt.Sprintf("%.1fh", tenths/10)
}

// Package followup computes which follow-up questions are visible for the
// current answers and whether the visible form is complete.
//
// Visibility is a single lookup per follow-up against the raw answers, never
// a traversal of dependsOn chains, so a cyclic configuration cannot loop: a
// follow-up caught in a cycle simply stays hidden until its parent has a
// truthy answer.
package followup

import (
	"encoding/json"
	"math"
	"strings"
)

// Followup is a conditional question attached to a metric.
type Followup struct {
	FollowupName string   `json:"followupName" yaml:"followup_name"`
	FollowupType string   `json:"followupType" yaml:"followup_type"`
	DependsOn    string   `json:"dependsOn,omitempty" yaml:"depends_on"`
	Label        string   `json:"label,omitempty" yaml:"label"`
	Options      []string `json:"options,omitempty" yaml:"options"`
}

// Values holds current answers keyed by follow-up name.
type Values map[string]interface{}

// Truthy follows JavaScript truthiness: "", 0, NaN, false and nil are falsy;
// any other string, number, bool or object is truthy.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}

// Answered reports whether v counts as a completed answer. Only nil and the
// empty string are unanswered; 0 and false are valid answers.
func Answered(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}

// freeTextTypes are follow-up types whose answers are typed prose. Every
// other type, including an untyped follow-up, records a choice.
var freeTextTypes = map[string]bool{
	"text": true, "textarea": true, "string": true, "free_text": true, "freetext": true,
}

// IsFreeText reports whether f records a free-text answer.
func (f Followup) IsFreeText() bool {
	return freeTextTypes[strings.ToLower(strings.TrimSpace(f.FollowupType))]
}

// negativeAnswers are choice answers that lock dependents.
var negativeAnswers = map[string]bool{"no": true, "false": true, "n": true}

// ParentTruthy decides whether an answer to parent unlocks its dependents.
// For choice parents a "no"/"false" string is a negative answer; free-text
// parents and non-string answers use Truthy.
func ParentTruthy(parent Followup, v interface{}) bool {
	if s, ok := v.(string); ok && !parent.IsFreeText() {
		if negativeAnswers[strings.ToLower(strings.TrimSpace(s))] {
			return false
		}
	}
	return Truthy(v)
}

// VisibleFollowups returns the visible subset of all, in order. Each
// follow-up costs one lookup of its parent's answer.
func VisibleFollowups(all []Followup, values Values) []Followup {
	byName := make(map[string]Followup, len(all))
	for _, f := range all {
		if _, dup := byName[f.FollowupName]; !dup {
			byName[f.FollowupName] = f
		}
	}
	out := make([]Followup, 0, len(all))
	for _, f := range all {
		if f.DependsOn == "" || ParentTruthy(byName[f.DependsOn], values[f.DependsOn]) {
			out = append(out, f)
		}
	}
	return out
}

// IsComplete reports whether every visible follow-up has an answer.
func IsComplete(visible []Followup, values Values) bool {
	for _, f := range visible {
		if !Answered(values[f.FollowupName]) {
			return false
		}
	}
	return true
}

// FormState is the derived state of a follow-up form.
type FormState struct {
	Visible  []Followup `json:"visible"`
	Complete bool       `json:"complete"`
	Missing  []string   `json:"missing"`
}

// State recomputes visibility and completion for the current answers.
// Visibility is always derived first so completion never sees stale
// visibility.
func State(all []Followup, values Values) FormState {
	visible := VisibleFollowups(all, values)
	missing := []string{}
	for _, f := range visible {
		if !Answered(values[f.FollowupName]) {
			missing = append(missing, f.FollowupName)
		}
	}
	return FormState{
		Visible:  visible,
		Complete: len(missing) == 0,
		Missing:  missing,
	}
}

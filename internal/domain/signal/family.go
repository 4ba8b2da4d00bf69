package signal

import (
	"fmt"
	"strings"

	"github.com/ehr/abstractor/internal/domain/timerule"
	"github.com/ehr/abstractor/internal/platform/payload"
)

// Family tags of the built-in fallback evaluators.
const (
	FamilyTiming        = "timing"
	FamilyNeurovascular = "neurovascular"
	FamilyOpenFracture  = "open_fracture"
	FamilyConsult       = "consult"
	FamilyImaging       = "imaging"
	FamilyInfection     = "infection"
	FamilyPermissive    = "permissive"
)

// TimingResolver computes a module's time rule verdict.
type TimingResolver interface {
	Resolve(moduleID string, p payload.Payload) timerule.Result
}

// EvalContext is everything a family evaluator may read.
type EvalContext struct {
	ModuleID string
	Signal   Signal
	Payload  payload.Payload
	Timing   TimingResolver
}

// EvalFunc derives a status for one signal from a case payload.
type EvalFunc func(ec EvalContext) Status

// Family is a tagged fallback evaluator. A signal id belongs to the family
// when every keyword of any one keyword set occurs in the lowercased id.
type Family struct {
	Tag      string
	Keywords [][]string
	Eval     EvalFunc
}

func (f Family) matches(id string) bool {
	lower := strings.ToLower(id)
	for _, set := range f.Keywords {
		if len(set) == 0 {
			continue
		}
		all := true
		for _, kw := range set {
			if !strings.Contains(lower, kw) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Registry holds fallback families in classification order. It is built
// once at configuration load and only read afterwards.
type Registry struct {
	ordered  []Family
	byTag    map[string]Family
	fallback Family
}

// NewRegistry creates an empty registry whose fallback is the permissive
// variant.
func NewRegistry() *Registry {
	return &Registry{
		byTag: make(map[string]Family),
		fallback: Family{
			Tag:  FamilyPermissive,
			Eval: func(EvalContext) Status { return StatusPass },
		},
	}
}

// Register appends a family. Tags must be unique.
func (r *Registry) Register(f Family) error {
	if f.Tag == "" || f.Eval == nil {
		return fmt.Errorf("family requires a tag and an evaluator")
	}
	if f.Tag == FamilyPermissive {
		return fmt.Errorf("family tag %q is reserved", f.Tag)
	}
	if _, exists := r.byTag[f.Tag]; exists {
		return fmt.Errorf("family %q already registered", f.Tag)
	}
	r.ordered = append(r.ordered, f)
	r.byTag[f.Tag] = f
	return nil
}

// Lookup returns the family registered under tag. The permissive tag
// resolves to the fallback.
func (r *Registry) Lookup(tag string) (Family, bool) {
	if tag == FamilyPermissive {
		return r.fallback, true
	}
	f, ok := r.byTag[tag]
	return f, ok
}

// Classify returns the first family whose keywords match the signal id, or
// the permissive fallback.
func (r *Registry) Classify(signalID string) Family {
	for _, f := range r.ordered {
		if f.matches(signalID) {
			return f
		}
	}
	return r.fallback
}

// Resolve picks the family for a signal: an explicit tag wins, otherwise the
// id is classified.
func (r *Registry) Resolve(s Signal) Family {
	if s.Family != "" {
		if f, ok := r.Lookup(s.Family); ok {
			return f
		}
	}
	return r.Classify(s.ID)
}

// Families lists registered tags in classification order, followed by the
// fallback tag.
func (r *Registry) Families() []string {
	tags := make([]string, 0, len(r.ordered)+1)
	for _, f := range r.ordered {
		tags = append(tags, f.Tag)
	}
	return append(tags, r.fallback.Tag)
}

// DefaultRegistry returns the built-in demo families. These rules exist for
// offline use and are not authoritative; server-computed merged signals
// always take precedence.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range []Family{
		{Tag: FamilyTiming, Keywords: [][]string{{"timing"}, {"sch"}, {"19h"}}, Eval: evalTiming},
		{Tag: FamilyNeurovascular, Keywords: [][]string{{"neuro"}, {"vascular"}}, Eval: evalNeurovascular},
		{Tag: FamilyOpenFracture, Keywords: [][]string{{"open", "fracture"}}, Eval: evalOpenFracture},
		{Tag: FamilyConsult, Keywords: [][]string{{"consult"}}, Eval: listPresence("consults")},
		{Tag: FamilyImaging, Keywords: [][]string{{"imaging"}}, Eval: listPresence("imaging")},
		{Tag: FamilyInfection, Keywords: [][]string{{"ssi"}, {"infection"}}, Eval: evalInfection},
	} {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

func evalTiming(ec EvalContext) Status {
	if v, ok := ec.Payload.Get("derived", "target_19h_met"); ok {
		return ToStatus(v)
	}
	if ec.Timing == nil {
		return StatusInactive
	}
	switch ec.Timing.Resolve(ec.ModuleID, ec.Payload).Status {
	case timerule.StatusPass:
		return StatusPass
	case timerule.StatusWarning:
		return StatusCaution
	case timerule.StatusFail:
		return StatusFail
	}
	return StatusInactive
}

func evalNeurovascular(ec EvalContext) Status {
	for _, key := range []string{"neurovascular_compromise", "neuro_deficit", "vascular_injury"} {
		if v, ok := ec.Payload.Get("clinical", key); ok {
			return Invert(ToStatus(v))
		}
	}
	return StatusInactive
}

func evalOpenFracture(ec EvalContext) Status {
	v, ok := ec.Payload.Get("clinical", "open_fracture")
	if !ok {
		return StatusInactive
	}
	return Flag(ToStatus(v))
}

func evalInfection(ec EvalContext) Status {
	for _, key := range []string{"infection_risk", "ssi", "infection"} {
		if v, ok := ec.Payload.Get("clinical", key); ok {
			return Flag(ToStatus(v))
		}
	}
	return StatusInactive
}

// listPresence passes when the top-level list has entries, fails when it
// is present but empty, and is inactive when absent.
func listPresence(key string) EvalFunc {
	return func(ec EvalContext) Status {
		v, ok := ec.Payload.Get(key)
		if !ok {
			return StatusInactive
		}
		switch t := v.(type) {
		case []interface{}:
			if len(t) > 0 {
				return StatusPass
			}
			return StatusFail
		case map[string]interface{}:
			if len(t) > 0 {
				return StatusPass
			}
			return StatusFail
		}
		return ToStatus(v)
	}
}

// Package signal derives pass/fail/caution/inactive statuses for clinical
// signals from a case payload.
//
// Server-computed results in payload.mergedSignals are authoritative. When a
// signal has no merged result, a fallback family evaluator infers a status
// from raw clinical fields. The fallback path is demo inference for offline
// use only: it is not authoritative and can be replaced wholesale by passing
// a different Registry.
package signal

import (
	"github.com/ehr/abstractor/internal/platform/payload"
)

// IDMapper canonicalizes module-scoped signal ids.
type IDMapper interface {
	Canonicalize(moduleID, signalID string) string
}

type identityMapper struct{}

func (identityMapper) Canonicalize(_, id string) string { return id }

// Source labels recorded on results and events.
const (
	SourceMerged = "merged"
	SourceRule   = "rule"
)

// Evaluator scores signals for one module. It holds no per-case state and
// is safe for concurrent use.
type Evaluator struct {
	moduleID string
	registry *Registry
	rules    *RuleEngine
	timing   TimingResolver
	ids      IDMapper
	observer Observer
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTiming sets the time rule resolver used by the timing family.
func WithTiming(t TimingResolver) Option { return func(e *Evaluator) { e.timing = t } }

// WithRules enables CEL rule expressions on signals.
func WithRules(re *RuleEngine) Option { return func(e *Evaluator) { e.rules = re } }

// WithIDMapper sets the canonicalizer used to join merged results.
func WithIDMapper(m IDMapper) Option { return func(e *Evaluator) { e.ids = m } }

// WithObserver sets the event observer.
func WithObserver(o Observer) Option { return func(e *Evaluator) { e.observer = o } }

// NewEvaluator builds an evaluator. A nil registry uses DefaultRegistry.
func NewEvaluator(registry *Registry, opts ...Option) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	e := &Evaluator{
		registry: registry,
		ids:      identityMapper{},
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForModule returns a copy of the evaluator bound to moduleID.
func (e *Evaluator) ForModule(moduleID string) *Evaluator {
	cp := *e
	cp.moduleID = moduleID
	return &cp
}

// ForReport returns a copy of the evaluator whose events carry reportID.
func (e *Evaluator) ForReport(reportID string) *Evaluator {
	cp := *e
	cp.observer = StampReport(e.observer, reportID)
	return &cp
}

// ModuleID returns the bound module id.
func (e *Evaluator) ModuleID() string { return e.moduleID }

// Evaluate returns the status of a single signal.
func (e *Evaluator) Evaluate(s Signal, p payload.Payload) Status {
	return e.EvaluateResult(s, p).Status
}

// EvaluateResult returns the full result for a single signal.
func (e *Evaluator) EvaluateResult(s Signal, p payload.Payload) SignalResult {
	return e.evaluate(s, p, e.MergedIndex(p))
}

// EvaluateAll scores signals in order, reading merged results once.
func (e *Evaluator) EvaluateAll(signals []Signal, p payload.Payload) []SignalResult {
	merged := e.MergedIndex(p)
	out := make([]SignalResult, 0, len(signals))
	for _, s := range signals {
		out = append(out, e.evaluate(s, p, merged))
	}
	return out
}

func (e *Evaluator) evaluate(s Signal, p payload.Payload, merged map[string]SignalResult) SignalResult {
	id := e.ids.Canonicalize(e.moduleID, s.ID)
	if m, ok := merged[id]; ok {
		m.ID = s.ID
		m.Source = SourceMerged
		e.report(s, m)
		return m
	}

	res := SignalResult{ID: s.ID}
	if s.Rule != "" && e.rules != nil {
		status, err := e.rules.Eval(s.Rule, p)
		if err == nil {
			res.Status, res.Source = status, SourceRule
			e.report(s, res)
			return res
		}
		e.observer.Observe(Event{
			Kind:     EventRuleCompileFailed,
			ModuleID: e.moduleID,
			SignalID: s.ID,
			Group:    s.Group,
			Detail:   err.Error(),
		})
	}

	fam := e.registry.Resolve(s)
	res.Status = fam.Eval(EvalContext{
		ModuleID: e.moduleID,
		Signal:   s,
		Payload:  p,
		Timing:   e.timing,
	})
	res.Source = fam.Tag
	e.report(s, res)
	return res
}

func (e *Evaluator) report(s Signal, res SignalResult) {
	e.observer.Observe(Event{
		Kind:     EventSignalEvaluated,
		ModuleID: e.moduleID,
		SignalID: s.ID,
		Group:    s.Group,
		Status:   res.Status,
		Source:   res.Source,
	})
}

// MergedIndex reads payload.mergedSignals keyed by canonical id. Entries
// without an id are ignored; the first entry for an id wins.
func (e *Evaluator) MergedIndex(p payload.Payload) map[string]SignalResult {
	list := p.List("mergedSignals")
	if len(list) == 0 {
		return nil
	}
	idx := make(map[string]SignalResult, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rawID := payload.Stringify(obj["id"])
		if rawID == "" {
			continue
		}
		id := e.ids.Canonicalize(e.moduleID, rawID)
		if _, dup := idx[id]; dup {
			continue
		}
		idx[id] = SignalResult{
			ID:       rawID,
			Status:   mergedStatus(obj["status"]),
			Evidence: stringList(obj["evidence"]),
			Cites:    stringList(obj["cites"]),
		}
	}
	return idx
}

// mergedStatus keeps a recognised status string as-is and normalizes
// anything else.
func mergedStatus(v interface{}) Status {
	if s, ok := v.(string); ok && Status(s).Valid() {
		return Status(s)
	}
	return ToStatus(v)
}

func stringList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := payload.Stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Results indexes results by signal id.
func Results(results []SignalResult) map[string]SignalResult {
	idx := make(map[string]SignalResult, len(results))
	for _, r := range results {
		idx[r.ID] = r
	}
	return idx
}

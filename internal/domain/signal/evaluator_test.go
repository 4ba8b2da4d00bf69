package signal

import (
	"strings"
	"sync"
	"testing"

	"github.com/ehr/abstractor/internal/domain/timerule"
	"github.com/ehr/abstractor/internal/platform/payload"
)

func parsePayload(t *testing.T, js string) payload.Payload {
	t.Helper()
	p, err := payload.Parse([]byte(js))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	return p
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type aliasMapper map[string]string

func (a aliasMapper) Canonicalize(_, id string) string {
	if c, ok := a[id]; ok {
		return c
	}
	return id
}

func newTestEvaluator(opts ...Option) *Evaluator {
	tr := timerule.NewResolver(timerule.DefaultRules(), nil)
	opts = append([]Option{WithTiming(tr)}, opts...)
	return NewEvaluator(nil, opts...).ForModule("SCH")
}

func TestEvaluate_MergedOverridesFallback(t *testing.T) {
	e := newTestEvaluator()
	// Fallback would compute pass from derived.target_19h_met; merged says fail.
	p := parsePayload(t, `{
		"derived": {"target_19h_met": true},
		"mergedSignals": [{"id": "sch_on_time", "status": "fail", "evidence": "op note 02:05"}]
	}`)

	res := e.EvaluateResult(Signal{ID: "sch_on_time", Group: "Timing"}, p)
	if res.Status != StatusFail {
		t.Errorf("expected merged fail, got %s", res.Status)
	}
	if res.Source != SourceMerged {
		t.Errorf("expected merged source, got %s", res.Source)
	}
	if len(res.Evidence) != 1 || res.Evidence[0] != "op note 02:05" {
		t.Errorf("expected evidence carried over, got %v", res.Evidence)
	}
}

func TestEvaluate_MergedAllStatusesVerbatim(t *testing.T) {
	e := newTestEvaluator()
	for _, st := range []Status{StatusPass, StatusFail, StatusCaution, StatusInactive} {
		p := parsePayload(t, `{"clinical":{"open_fracture":true},"mergedSignals":[{"id":"open_fracture","status":"`+string(st)+`"}]}`)
		if got := e.Evaluate(Signal{ID: "open_fracture"}, p); got != st {
			t.Errorf("expected %s verbatim, got %s", st, got)
		}
	}
}

func TestEvaluate_MergedJoinsThroughAliases(t *testing.T) {
	e := newTestEvaluator(WithIDMapper(aliasMapper{"ai_delay": "delay_documented"}))
	p := parsePayload(t, `{"mergedSignals":[{"id":"ai_delay","status":"caution","cites":["n1","n2"]}]}`)

	res := e.EvaluateResult(Signal{ID: "delay_documented"}, p)
	if res.Status != StatusCaution {
		t.Errorf("expected caution via alias, got %s", res.Status)
	}
	if res.ID != "delay_documented" {
		t.Errorf("expected catalog id on result, got %s", res.ID)
	}
	if len(res.Cites) != 2 {
		t.Errorf("expected cites, got %v", res.Cites)
	}
}

func TestEvaluate_FallbackFamilies(t *testing.T) {
	e := newTestEvaluator()
	tests := []struct {
		name string
		id   string
		body string
		want Status
	}{
		{"timing from derived", "sch_19h_met", `{"derived":{"target_19h_met":false}}`, StatusFail},
		{"timing from time rule", "timing_window", `{"times":{"ArrivalInstant":"2025-08-15T10:40:00Z","IncisionStartInstant":"2025-08-16T02:05:00Z"}}`, StatusPass},
		{"timing warning is caution", "timing_window", `{"times":{"ArrivalInstant":"2025-08-15T00:00:00Z","IncisionStartInstant":"2025-08-15T22:00:00Z"}}`, StatusCaution},
		{"timing no data", "timing_window", `{}`, StatusInactive},
		{"neuro compromise fails", "neuro_check", `{"clinical":{"neurovascular_compromise":true}}`, StatusFail},
		{"vascular intact passes", "vascular_status", `{"clinical":{"neurovascular_compromise":false}}`, StatusPass},
		{"neuro absent", "neuro_check", `{"clinical":{}}`, StatusInactive},
		{"open fracture flagged", "open_fracture_present", `{"clinical":{"open_fracture":"yes"}}`, StatusCaution},
		{"closed fracture passes", "is_open_fracture", `{"clinical":{"open_fracture":false}}`, StatusPass},
		{"consult present", "ortho_consult", `{"consults":[{"service":"ortho"}]}`, StatusPass},
		{"consult empty", "ortho_consult", `{"consults":[]}`, StatusFail},
		{"consult missing", "ortho_consult", `{}`, StatusInactive},
		{"imaging present", "imaging_done", `{"imaging":[{"modality":"xr"}]}`, StatusPass},
		{"ssi flagged", "ssi_risk", `{"clinical":{"infection_risk":true}}`, StatusCaution},
		{"infection clear", "infection_signs", `{"clinical":{"ssi":"no"}}`, StatusPass},
		{"unknown family permissive", "weekend_arrival", `{}`, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(Signal{ID: tt.id}, parsePayload(t, tt.body))
			if got != tt.want {
				t.Errorf("Evaluate(%s) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestEvaluate_InfectionIsDeterministic(t *testing.T) {
	e := newTestEvaluator()
	p := parsePayload(t, `{"clinical":{"infection_risk":false}}`)
	for i := 0; i < 50; i++ {
		if got := e.Evaluate(Signal{ID: "ssi_risk"}, p); got != StatusPass {
			t.Fatalf("iteration %d: expected stable pass, got %s", i, got)
		}
	}
}

func TestEvaluate_ExplicitFamilyTag(t *testing.T) {
	e := newTestEvaluator()
	// The id alone would classify as permissive.
	s := Signal{ID: "q7", Family: FamilyConsult}
	if got := e.Evaluate(s, parsePayload(t, `{"consults":[]}`)); got != StatusFail {
		t.Errorf("expected consult family via tag, got %s", got)
	}
}

func TestEvaluate_CELRule(t *testing.T) {
	re, err := NewRuleEngine()
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}
	e := newTestEvaluator(WithRules(re))

	s := Signal{ID: "anticoag_reversal", Rule: `clinical.inr > 1.5 ? "caution" : "pass"`}
	if got := e.Evaluate(s, parsePayload(t, `{"clinical":{"inr":2.1}}`)); got != StatusCaution {
		t.Errorf("expected caution, got %s", got)
	}
	if got := e.Evaluate(s, parsePayload(t, `{"clinical":{"inr":1.1}}`)); got != StatusPass {
		t.Errorf("expected pass, got %s", got)
	}
	if got := e.Evaluate(s, parsePayload(t, `{}`)); got != StatusInactive {
		t.Errorf("expected inactive when field missing, got %s", got)
	}

	b := Signal{ID: "has_consult", Rule: `size(consults) > 0`}
	if got := e.Evaluate(b, parsePayload(t, `{"consults":[1]}`)); got != StatusPass {
		t.Errorf("expected pass for true rule, got %s", got)
	}
}

func TestEvaluate_ProseRuleFallsBackToFamily(t *testing.T) {
	re, _ := NewRuleEngine()
	rec := &recorder{}
	e := newTestEvaluator(WithRules(re), WithObserver(rec))

	s := Signal{ID: "ortho_consult", Rule: "Orthopedics consulted before surgery"}
	if got := e.Evaluate(s, parsePayload(t, `{"consults":[{"service":"ortho"}]}`)); got != StatusPass {
		t.Errorf("expected consult family fallback, got %s", got)
	}

	var sawCompileFailure bool
	for _, ev := range rec.events {
		if ev.Kind == EventRuleCompileFailed && ev.SignalID == "ortho_consult" {
			sawCompileFailure = true
		}
	}
	if !sawCompileFailure {
		t.Error("expected a compile failure event")
	}
}

func TestEvaluateAll_ReportsEachSignal(t *testing.T) {
	rec := &recorder{}
	e := newTestEvaluator(WithObserver(rec))
	signals := []Signal{
		{ID: "ortho_consult", Group: "Consults"},
		{ID: "imaging_done", Group: "Imaging"},
	}

	results := e.EvaluateAll(signals, parsePayload(t, `{"consults":[1]}`))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusPass || results[1].Status != StatusInactive {
		t.Errorf("unexpected statuses %s, %s", results[0].Status, results[1].Status)
	}
	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rec.events))
	}
	if rec.events[1].Group != "Imaging" || rec.events[1].ModuleID != "SCH" {
		t.Errorf("unexpected event %+v", rec.events[1])
	}
}

func TestEvaluate_NeverPanicsOnOddPayloads(t *testing.T) {
	e := newTestEvaluator()
	bodies := []string{
		`{}`,
		`{"mergedSignals":"nope"}`,
		`{"mergedSignals":[1,"x",{"status":"pass"}]}`,
		`{"clinical":"flat string"}`,
		`{"times":[],"events":null}`,
	}
	ids := []string{"sch_window", "neuro", "open_fracture", "consult", "imaging", "ssi", "other"}
	for _, b := range bodies {
		p := parsePayload(t, b)
		for _, id := range ids {
			if got := e.Evaluate(Signal{ID: id}, p); !got.Valid() {
				t.Errorf("invalid status %q for %s on %s", got, id, b)
			}
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	tags := strings.Join(r.Families(), ",")
	want := "timing,neurovascular,open_fracture,consult,imaging,infection,permissive"
	if tags != want {
		t.Errorf("expected %s, got %s", want, tags)
	}

	if err := r.Register(Family{Tag: FamilyConsult, Eval: func(EvalContext) Status { return StatusPass }}); err == nil {
		t.Error("expected duplicate tag error")
	}
	if err := r.Register(Family{Tag: FamilyPermissive, Eval: func(EvalContext) Status { return StatusPass }}); err == nil {
		t.Error("expected reserved tag error")
	}
	if f := r.Classify("fracture_open_grade"); f.Tag != FamilyOpenFracture {
		t.Errorf("expected open_fracture, got %s", f.Tag)
	}
	if f := r.Classify("fracture_closed"); f.Tag != FamilyPermissive {
		t.Errorf("expected permissive, got %s", f.Tag)
	}
}

func TestEvaluator_ForReportStampsEvents(t *testing.T) {
	rec := &recorder{}
	base := newTestEvaluator(WithObserver(rec))
	a, b := base.ForReport("r-1"), base.ForReport("r-2")

	p := parsePayload(t, `{}`)
	a.Evaluate(Signal{ID: "ortho_consult"}, p)
	b.Evaluate(Signal{ID: "ortho_consult"}, p)
	base.Evaluate(Signal{ID: "ortho_consult"}, p)

	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.events))
	}
	for i, want := range []string{"r-1", "r-2", ""} {
		if rec.events[i].ReportID != want {
			t.Errorf("event %d: expected report %q, got %q", i, want, rec.events[i].ReportID)
		}
	}
}

func TestStampReport_KeepsExistingID(t *testing.T) {
	rec := &recorder{}
	obs := StampReport(rec, "outer")
	obs.Observe(Event{Kind: EventJoinDrift})
	obs.Observe(Event{Kind: EventJoinDrift, ReportID: "inner"})
	StampReport(nil, "x").Observe(Event{})

	if rec.events[0].ReportID != "outer" || rec.events[1].ReportID != "inner" {
		t.Errorf("unexpected report ids %+v", rec.events)
	}
}

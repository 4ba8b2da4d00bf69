// Package evaluation runs a full abstraction pass for one case: signal
// statuses, the module's time rule, grouped display layout, follow-up form
// state and a join check of merged signals against the catalog.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/abstractor/internal/domain/canonical"
	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/grouping"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
	"github.com/ehr/abstractor/internal/domain/signal"
	"github.com/ehr/abstractor/internal/domain/timerule"
	"github.com/ehr/abstractor/internal/platform/payload"
)

// ConfigLoader is the part of the aggregator the service needs.
type ConfigLoader interface {
	Load(ctx context.Context, metricID string) (*metricconfig.CompleteConfig, error)
}

// Service is stateless between requests.
type Service struct {
	configs   ConfigLoader
	evaluator *signal.Evaluator
	timing    *timerule.Resolver
	canon     *canonical.Canonicalizer
	observer  signal.Observer
	now       func() time.Time
}

// NewService wires the pass. obs may be nil.
func NewService(configs ConfigLoader, evaluator *signal.Evaluator, timing *timerule.Resolver, canon *canonical.Canonicalizer, obs signal.Observer) *Service {
	if obs == nil {
		obs = signal.NopObserver{}
	}
	return &Service{
		configs:   configs,
		evaluator: evaluator,
		timing:    timing,
		canon:     canon,
		observer:  obs,
		now:       time.Now,
	}
}

// Evaluate loads metricID's configuration and scores req against it.
func (s *Service) Evaluate(ctx context.Context, metricID string, req Request) (*Report, error) {
	cfg, err := s.configs.Load(ctx, metricID)
	if err != nil {
		return nil, err
	}
	return s.EvaluateConfig(cfg, req), nil
}

// EvaluateConfig scores req against an already loaded configuration.
func (s *Service) EvaluateConfig(cfg *metricconfig.CompleteConfig, req Request) *Report {
	metricID := cfg.Metric.MetricID
	id := uuid.New()
	obs := signal.StampReport(s.observer, id.String())
	ev := s.evaluator.ForModule(metricID).ForReport(id.String())

	catalog := cfg.Signals()
	results := ev.EvaluateAll(catalog, req.Payload)
	byID := signal.Results(results)

	rep := &Report{
		ID:          id,
		MetricID:    metricID,
		Metric:      cfg.Metric,
		EvaluatedAt: s.now().UTC(),
		Groups:      grouping.Arrange(cfg.SignalGroups, byID, cfg.DisplayItems, obs),
		Results:     results,
		Timing:      s.timing.Resolve(metricID, req.Payload),
		Followups:   followupState(obs, metricID, cfg.Followups, req.Answers),
	}
	for _, r := range results {
		rep.Summary.add(r.Status)
	}
	rep.Join = s.join(obs, metricID, catalog, req.Payload)
	return rep
}

// FollowupState recomputes the form for metricID's follow-ups.
func (s *Service) FollowupState(ctx context.Context, metricID string, answers followup.Values) (followup.FormState, error) {
	cfg, err := s.configs.Load(ctx, metricID)
	if err != nil {
		return followup.FormState{}, err
	}
	return followupState(s.observer, metricID, cfg.Followups, answers), nil
}

func followupState(obs signal.Observer, metricID string, all []followup.Followup, answers followup.Values) followup.FormState {
	st := followup.State(all, answers)
	obs.Observe(signal.Event{
		Kind:     signal.EventFollowupsResolved,
		ModuleID: metricID,
		Detail:   fmt.Sprintf("visible=%d missing=%d complete=%t", len(st.Visible), len(st.Missing), st.Complete),
	})
	return st
}

func (s *Service) join(obs signal.Observer, metricID string, catalog []signal.Signal, p payload.Payload) *canonical.JoinReport {
	merged := p.List("mergedSignals")
	if merged == nil {
		return nil
	}
	produced := make([]string, 0, len(merged))
	for _, item := range merged {
		if obj, ok := item.(map[string]interface{}); ok {
			produced = append(produced, payload.Stringify(obj["id"]))
		}
	}
	expected := make([]string, len(catalog))
	for i, sig := range catalog {
		expected[i] = sig.ID
	}

	rep := s.canon.DiffJoin(metricID, produced, expected)
	if rep.Drift() {
		obs.Observe(signal.Event{
			Kind:     signal.EventJoinDrift,
			ModuleID: metricID,
			Detail:   fmt.Sprintf("missing=%v extra=%v", rep.Missing, rep.Extra),
		})
	}
	return &rep
}

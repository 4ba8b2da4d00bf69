// Package metricconfig loads metric definitions (signal groups, follow-ups,
// display configuration and prompts) from the metadata store and serves
// them over the data API.
package metricconfig

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/signal"
)

// Source is the metadata API consumed by the aggregator.
type Source interface {
	ListSpecialties(ctx context.Context) ([]Specialty, error)
	ListMetrics(ctx context.Context, specialty, domain string) (map[string][]Metric, error)
	GetMetric(ctx context.Context, metricID string) (*Metric, error)
	GetComplete(ctx context.Context, metricID string) (*CompleteConfig, error)
	ListFollowups(ctx context.Context, metricID string) ([]followup.Followup, error)
	ListSignalGroups(ctx context.Context, metricID string) ([]signal.SignalGroup, error)
}

// Aggregator composes a ready-to-render configuration for a metric. It does
// not retry or substitute defaults: fetch failures are returned to the
// caller, which owns retry policy.
type Aggregator struct {
	src Source
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// Source returns the underlying metadata source.
func (a *Aggregator) Source() Source { return a.src }

// Load fetches the complete configuration for metricID. Groups come back
// sorted by display order.
func (a *Aggregator) Load(ctx context.Context, metricID string) (*CompleteConfig, error) {
	cfg, err := a.src.GetComplete(ctx, metricID)
	if err != nil {
		return nil, fmt.Errorf("load metric %s: %w", metricID, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("load metric %s: %w", metricID, ErrNotFound)
	}
	cfg.SignalGroups = signal.SortGroups(cfg.SignalGroups)
	return cfg, nil
}

// LoadSplit assembles a configuration from the per-resource endpoints,
// fetching them concurrently. The first failure cancels the others and is
// returned. Display configuration and prompts are only available from the
// complete endpoint, so they are left empty.
func (a *Aggregator) LoadSplit(ctx context.Context, metricID string) (*CompleteConfig, error) {
	var (
		metric    *Metric
		groups    []signal.SignalGroup
		followups []followup.Followup
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := a.src.GetMetric(gctx, metricID)
		if err != nil {
			return fmt.Errorf("metric: %w", err)
		}
		if m == nil {
			return fmt.Errorf("metric: %w", ErrNotFound)
		}
		metric = m
		return nil
	})
	g.Go(func() error {
		sg, err := a.src.ListSignalGroups(gctx, metricID)
		if err != nil {
			return fmt.Errorf("signals: %w", err)
		}
		groups = sg
		return nil
	})
	g.Go(func() error {
		fu, err := a.src.ListFollowups(gctx, metricID)
		if err != nil {
			return fmt.Errorf("followups: %w", err)
		}
		followups = fu
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load metric %s: %w", metricID, err)
	}
	return &CompleteConfig{
		Metric:       *metric,
		SignalGroups: signal.SortGroups(groups),
		Followups:    followups,
	}, nil
}

package metricconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testBundle = `
specialties:
  - id: trauma
    name: Trauma
    display_order: 2
  - id: ortho
    name: Orthopedics
    display_order: 1
metrics:
  - metric:
      metric_id: SCH
      metric_name: Supracondylar Humerus Fracture
      specialty: Orthopedics
      specialty_id: ortho
      domain: pediatric
      threshold_hours: 19
    signal_groups:
      - group_name: Delay Drivers
        display_order: 2
        signals:
          - id: weekend_arrival
            label: Weekend arrival
      - group_name: Core Timing
        display_order: 1
        signals:
          - id: target_19h_met
            label: Incision within 19 hours
            family: timing
          - id: neurovascular_compromise
            label: Neurovascular compromise
    followups:
      - followup_name: delay
        followup_type: boolean
      - followup_name: delay_reason
        followup_type: text
        depends_on: delay
    display_items:
      group_order: [Core Timing, Delay Drivers]
    prompts:
      - kind: summary
        template: "Summarize case {{.CaseID}}"
  - metric:
      metric_id: HIP
      metric_name: Hip Fracture Surgery Within 24h
      specialty: Orthopedics
      domain: adult
`

func mustBundle(t *testing.T) *FileSource {
	t.Helper()
	src, err := ParseBundle([]byte(testBundle))
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	return src
}

func TestParseBundle(t *testing.T) {
	src := mustBundle(t)
	ctx := context.Background()

	specs, _ := src.ListSpecialties(ctx)
	if len(specs) != 2 || specs[0].ID != "ortho" {
		t.Errorf("expected specialties ordered by display order, got %+v", specs)
	}

	cfg, err := src.GetComplete(ctx, "SCH")
	if err != nil {
		t.Fatalf("GetComplete: %v", err)
	}
	if cfg.Metric.ThresholdHours == nil || *cfg.Metric.ThresholdHours != 19 {
		t.Errorf("expected threshold 19, got %v", cfg.Metric.ThresholdHours)
	}
	if got := cfg.SignalGroups[0].Signals[0].Group; got != "Delay Drivers" {
		t.Errorf("expected signal group backfilled, got %q", got)
	}
	if len(cfg.DisplayItems.GroupOrder) != 2 {
		t.Errorf("expected group order, got %v", cfg.DisplayItems.GroupOrder)
	}
	if p, ok := cfg.Prompt(PromptSummary); !ok || !strings.Contains(p.Template, "CaseID") {
		t.Errorf("expected summary prompt, got %+v", p)
	}
	if len(cfg.Signals()) != 3 {
		t.Errorf("expected 3 signals, got %d", len(cfg.Signals()))
	}
}

func TestFileSource_GetCompleteReturnsCopy(t *testing.T) {
	src := mustBundle(t)
	ctx := context.Background()

	cfg, _ := src.GetComplete(ctx, "SCH")
	cfg.SignalGroups[0].Signals[0].Label = "mutated"
	cfg.SignalGroups = cfg.SignalGroups[:1]

	again, _ := src.GetComplete(ctx, "SCH")
	if len(again.SignalGroups) != 2 || again.SignalGroups[0].Signals[0].Label != "Weekend arrival" {
		t.Error("expected stored configuration to be unaffected by caller mutation")
	}
}

func TestFileSource_NotFound(t *testing.T) {
	src := mustBundle(t)
	ctx := context.Background()

	if _, err := src.GetComplete(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := src.GetMetric(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	groups, err := src.ListSignalGroups(ctx, "NOPE")
	if err != nil || groups == nil || len(groups) != 0 {
		t.Errorf("expected empty non-nil groups, got %v, %v", groups, err)
	}
	fus, err := src.ListFollowups(ctx, "NOPE")
	if err != nil || fus == nil || len(fus) != 0 {
		t.Errorf("expected empty non-nil followups, got %v, %v", fus, err)
	}
}

func TestFileSource_ListMetricsFilters(t *testing.T) {
	src := mustBundle(t)
	ctx := context.Background()

	all, _ := src.ListMetrics(ctx, "", "")
	if len(all["Orthopedics"]) != 2 {
		t.Fatalf("expected 2 orthopedic metrics, got %v", all)
	}
	if all["Orthopedics"][0].MetricID != "HIP" {
		t.Errorf("expected metrics sorted by name, got %s first", all["Orthopedics"][0].MetricID)
	}

	peds, _ := src.ListMetrics(ctx, "", "pediatric")
	if len(peds["Orthopedics"]) != 1 || peds["Orthopedics"][0].MetricID != "SCH" {
		t.Errorf("expected only SCH for pediatric, got %v", peds)
	}

	none, _ := src.ListMetrics(ctx, "Cardiology", "")
	if len(none) != 0 {
		t.Errorf("expected no metrics, got %v", none)
	}
}

func TestParseBundle_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "metrics:\n  - metric: {metric_name: x}\n", "missing metric_id"},
		{"duplicate id", "metrics:\n  - metric: {metric_id: A}\n  - metric: {metric_id: A}\n", "duplicate id"},
		{"followup cycle", `
metrics:
  - metric: {metric_id: A}
    followups:
      - {followup_name: x, depends_on: y}
      - {followup_name: y, depends_on: x}
`, "cycle"},
		{"bad yaml", "metrics: [", "parse metric bundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBundle([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	if err := os.WriteFile(path, []byte(testBundle), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(src.Bundle().Metrics) != 2 {
		t.Errorf("expected 2 metrics, got %d", len(src.Bundle().Metrics))
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

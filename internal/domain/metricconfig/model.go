package metricconfig

import (
	"errors"
	"time"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/grouping"
	"github.com/ehr/abstractor/internal/domain/signal"
)

// ErrNotFound is returned when a metric does not exist.
var ErrNotFound = errors.New("metric not found")

// Specialty maps to the specialty table.
type Specialty struct {
	ID           string `db:"id" json:"id" yaml:"id"`
	Name         string `db:"name" json:"name" yaml:"name"`
	DisplayOrder int    `db:"display_order" json:"displayOrder" yaml:"display_order"`
}

// Metric maps to the metric table.
type Metric struct {
	MetricID       string     `db:"metric_id" json:"metricId" yaml:"metric_id"`
	MetricName     string     `db:"metric_name" json:"metricName" yaml:"metric_name"`
	Specialty      string     `db:"specialty" json:"specialty" yaml:"specialty"`
	SpecialtyID    *string    `db:"specialty_id" json:"specialtyId,omitempty" yaml:"specialty_id"`
	Domain         *string    `db:"domain" json:"domain,omitempty" yaml:"domain"`
	QuestionCode   *string    `db:"question_code" json:"questionCode,omitempty" yaml:"question_code"`
	ThresholdHours *float64   `db:"threshold_hours" json:"thresholdHours,omitempty" yaml:"threshold_hours"`
	Version        *string    `db:"version" json:"version,omitempty" yaml:"version"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updatedAt,omitempty" yaml:"-"`
}

// Prompt kinds understood by the narrative generator.
const (
	PromptSummary   = "summary"
	PromptQuestions = "questions"
)

// Prompt is a narrative template attached to a metric.
type Prompt struct {
	Kind     string `db:"kind" json:"kind" yaml:"kind"`
	Template string `db:"template" json:"template" yaml:"template"`
	Version  string `db:"version" json:"version,omitempty" yaml:"version"`
}

// CompleteConfig is everything needed to render one metric.
type CompleteConfig struct {
	Metric       Metric                 `json:"metric" yaml:"metric"`
	SignalGroups []signal.SignalGroup   `json:"signalGroups" yaml:"signal_groups"`
	Followups    []followup.Followup    `json:"followups" yaml:"followups"`
	DisplayItems grouping.DisplayConfig `json:"displayItems" yaml:"display_items"`
	Prompts      []Prompt               `json:"prompts" yaml:"prompts"`
}

// Signals returns every catalog signal across groups.
func (c *CompleteConfig) Signals() []signal.Signal {
	return signal.Flatten(c.SignalGroups)
}

// Prompt returns the template of the given kind.
func (c *CompleteConfig) Prompt(kind string) (Prompt, bool) {
	for _, p := range c.Prompts {
		if p.Kind == kind {
			return p, true
		}
	}
	return Prompt{}, false
}

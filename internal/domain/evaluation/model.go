package evaluation

import (
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

// Request is one case to score against a metric.
type Request struct {
	Payload payload.Payload `json:"payload"`
	Answers followup.Values `json:"answers"`
}

// Summary counts results by status.
type Summary struct {
	Pass     int `json:"pass"`
	Fail     int `json:"fail"`
	Caution  int `json:"caution"`
	Inactive int `json:"inactive"`
}

func (s *Summary) add(st signal.Status) {
	switch st {
	case signal.StatusPass:
		s.Pass++
	case signal.StatusFail:
		s.Fail++
	case signal.StatusCaution:
		s.Caution++
	default:
		s.Inactive++
	}
}

// Report is the display-ready evaluation of one case.
type Report struct {
	ID          uuid.UUID                `json:"id"`
	MetricID    string                   `json:"metricId"`
	Metric      metricconfig.Metric      `json:"metric"`
	EvaluatedAt time.Time                `json:"evaluatedAt"`
	Groups      []grouping.RenderedGroup `json:"groups"`
	Results     []signal.SignalResult    `json:"results"`
	Summary     Summary                  `json:"summary"`
	Timing      timerule.Result          `json:"timing"`
	Followups   followup.FormState       `json:"followups"`
	// Join is present when the payload carries merged signals.
	Join *canonical.JoinReport `json:"join,omitempty"`
}

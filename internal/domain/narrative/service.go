package narrative

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/abstractor/internal/domain/evaluation"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
)

var (
	// ErrDisabled is returned when no generator is configured.
	ErrDisabled = errors.New("narrative generation is not configured")
	// ErrUnknownKind is returned for a kind other than summary or questions.
	ErrUnknownKind = errors.New("unknown narrative kind")
)

// Narrative is the generated text for one case.
type Narrative struct {
	MetricID  string   `json:"metricId"`
	ReportID  string   `json:"reportId"`
	Kind      string   `json:"kind"`
	Prompt    string   `json:"prompt"`
	Text      string   `json:"text,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

type Service struct {
	configs evaluation.ConfigLoader
	eval    *evaluation.Service
	gen     Generator
}

// NewService wires narrative generation. gen may be nil to disable it.
func NewService(configs evaluation.ConfigLoader, eval *evaluation.Service, gen Generator) *Service {
	return &Service{configs: configs, eval: eval, gen: gen}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool { return s.gen != nil }

// Generate evaluates the case and asks the generator for kind.
func (s *Service) Generate(ctx context.Context, metricID, kind string, req evaluation.Request) (*Narrative, error) {
	if s.gen == nil {
		return nil, ErrDisabled
	}
	if kind == "" {
		kind = metricconfig.PromptSummary
	}
	if kind != metricconfig.PromptSummary && kind != metricconfig.PromptQuestions {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}

	cfg, err := s.configs.Load(ctx, metricID)
	if err != nil {
		return nil, err
	}
	rep := s.eval.EvaluateConfig(cfg, req)

	var tmpl string
	if p, ok := cfg.Prompt(kind); ok {
		tmpl = p.Template
	}
	prompt, err := RenderPrompt(kind, tmpl, cfg.Metric, rep)
	if err != nil {
		return nil, err
	}

	out := &Narrative{MetricID: metricID, ReportID: rep.ID.String(), Kind: kind, Prompt: prompt}
	in := Input{Metric: cfg.Metric, Report: rep, Prompt: prompt}
	switch kind {
	case metricconfig.PromptQuestions:
		out.Questions, err = s.gen.Questions(ctx, in)
	default:
		out.Text, err = s.gen.Summarize(ctx, in)
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}
	return out, nil
}

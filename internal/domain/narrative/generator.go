// Package narrative turns an evaluation report into reviewer-facing prose:
// a case summary and a list of open questions for the abstractor.
package narrative

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/ehr/abstractor/internal/domain/evaluation"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
)

// Input is what a generator sees for one case.
type Input struct {
	Metric metricconfig.Metric
	Report *evaluation.Report
	// Prompt is the rendered user prompt.
	Prompt string
}

// Generator produces narrative text. Implementations call out to a model
// and must honour ctx cancellation.
type Generator interface {
	Summarize(ctx context.Context, in Input) (string, error)
	Questions(ctx context.Context, in Input) ([]string, error)
}

const defaultSummaryTemplate = `Metric: {{.Metric.MetricName}} ({{.Metric.MetricID}})
Time to target: {{if .Report.Timing.Display}}{{.Report.Timing.Display}}{{else}}unknown{{end}} ({{.Report.Timing.Status}})
{{range .Report.Groups}}
{{.GroupName}}:{{range .Signals}}
- {{.Label}}: {{.Result.Status}}{{range .Result.Evidence}} [{{.}}]{{end}}{{end}}
{{end}}
Write a short clinical abstraction summary of this case for a quality reviewer.`

const defaultQuestionsTemplate = `Metric: {{.Metric.MetricName}} ({{.Metric.MetricID}})
Time to target: {{if .Report.Timing.Display}}{{.Report.Timing.Display}}{{else}}unknown{{end}} ({{.Report.Timing.Status}})
{{range .Report.Results}}{{if ne (print .Status) "pass"}}- {{.ID}}: {{.Status}}
{{end}}{{end}}{{range .Report.Followups.Missing}}- unanswered follow-up: {{.}}
{{end}}
List the questions an abstractor should resolve before closing this case, one per line.`

// RenderPrompt executes a metric prompt template against the report. An
// empty template falls back to the built-in one for kind.
func RenderPrompt(kind, tmpl string, metric metricconfig.Metric, rep *evaluation.Report) (string, error) {
	if tmpl == "" {
		switch kind {
		case metricconfig.PromptSummary:
			tmpl = defaultSummaryTemplate
		case metricconfig.PromptQuestions:
			tmpl = defaultQuestionsTemplate
		default:
			return "", fmt.Errorf("unknown prompt kind %q", kind)
		}
	}
	t, err := template.New(kind).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", kind, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, struct {
		Metric metricconfig.Metric
		Report *evaluation.Report
	}{metric, rep}); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ParseQuestions splits model output into one question per non-empty line,
// stripping list markers.
func ParseQuestions(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = strings.TrimSpace(line[i+1:])
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

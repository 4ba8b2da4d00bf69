package metricconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/abstractor/internal/domain/followup"
	"github.com/ehr/abstractor/internal/domain/signal"
)

// Bundle is the on-disk form of a set of metric configurations.
type Bundle struct {
	Specialties []Specialty      `yaml:"specialties" json:"specialties"`
	Metrics     []CompleteConfig `yaml:"metrics" json:"metrics"`
}

// FileSource serves metric configuration from a YAML bundle. It backs the
// offline CLI and deployments without a database.
type FileSource struct {
	specialties []Specialty
	metrics     map[string]*CompleteConfig
	order       []string
}

// ParseBundle decodes and validates a YAML bundle.
func ParseBundle(data []byte) (*FileSource, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse metric bundle: %w", err)
	}
	return NewFileSource(b)
}

// LoadFile reads a YAML bundle from path.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metric bundle %s: %w", path, err)
	}
	return ParseBundle(data)
}

// NewFileSource validates b. Every metric needs an id, ids must be unique,
// and follow-up sets must be free of duplicates, dangling references and
// dependsOn cycles.
func NewFileSource(b Bundle) (*FileSource, error) {
	src := &FileSource{
		specialties: append([]Specialty(nil), b.Specialties...),
		metrics:     make(map[string]*CompleteConfig, len(b.Metrics)),
	}
	var problems []string
	for i := range b.Metrics {
		cfg := b.Metrics[i]
		id := cfg.Metric.MetricID
		if id == "" {
			problems = append(problems, fmt.Sprintf("metrics[%d]: missing metric_id", i))
			continue
		}
		if _, dup := src.metrics[id]; dup {
			problems = append(problems, fmt.Sprintf("metric %s: duplicate id", id))
			continue
		}
		for _, e := range followup.Validate(cfg.Followups) {
			problems = append(problems, fmt.Sprintf("metric %s: %s", id, e.Error()))
		}
		for gi := range cfg.SignalGroups {
			for si := range cfg.SignalGroups[gi].Signals {
				if cfg.SignalGroups[gi].Signals[si].Group == "" {
					cfg.SignalGroups[gi].Signals[si].Group = cfg.SignalGroups[gi].GroupName
				}
			}
		}
		src.metrics[id] = &cfg
		src.order = append(src.order, id)
	}
	if len(problems) > 0 {
		return nil, errors.New("invalid metric bundle: " + strings.Join(problems, "; "))
	}
	sort.SliceStable(src.specialties, func(i, j int) bool {
		return src.specialties[i].DisplayOrder < src.specialties[j].DisplayOrder
	})
	return src, nil
}

func (f *FileSource) ListSpecialties(context.Context) ([]Specialty, error) {
	return append([]Specialty{}, f.specialties...), nil
}

func (f *FileSource) ListMetrics(_ context.Context, specialty, domain string) (map[string][]Metric, error) {
	out := map[string][]Metric{}
	for _, id := range f.order {
		m := f.metrics[id].Metric
		if specialty != "" && m.Specialty != specialty {
			continue
		}
		if domain != "" && (m.Domain == nil || *m.Domain != domain) {
			continue
		}
		out[m.Specialty] = append(out[m.Specialty], m)
	}
	for k := range out {
		list := out[k]
		sort.SliceStable(list, func(i, j int) bool { return list[i].MetricName < list[j].MetricName })
	}
	return out, nil
}

func (f *FileSource) lookup(metricID string) (*CompleteConfig, error) {
	cfg, ok := f.metrics[metricID]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (f *FileSource) GetMetric(_ context.Context, metricID string) (*Metric, error) {
	cfg, err := f.lookup(metricID)
	if err != nil {
		return nil, err
	}
	m := cfg.Metric
	return &m, nil
}

// GetComplete returns a deep enough copy that callers may reorder groups
// and signals freely.
func (f *FileSource) GetComplete(_ context.Context, metricID string) (*CompleteConfig, error) {
	cfg, err := f.lookup(metricID)
	if err != nil {
		return nil, err
	}
	out := *cfg
	out.SignalGroups = copyGroups(cfg.SignalGroups)
	out.Followups = append([]followup.Followup{}, cfg.Followups...)
	out.Prompts = append([]Prompt{}, cfg.Prompts...)
	return &out, nil
}

func (f *FileSource) ListFollowups(_ context.Context, metricID string) ([]followup.Followup, error) {
	cfg, ok := f.metrics[metricID]
	if !ok {
		return []followup.Followup{}, nil
	}
	return append([]followup.Followup{}, cfg.Followups...), nil
}

func (f *FileSource) ListSignalGroups(_ context.Context, metricID string) ([]signal.SignalGroup, error) {
	cfg, ok := f.metrics[metricID]
	if !ok {
		return []signal.SignalGroup{}, nil
	}
	return copyGroups(cfg.SignalGroups), nil
}

// Bundle returns every configuration in file order, for import.
func (f *FileSource) Bundle() Bundle {
	b := Bundle{Specialties: append([]Specialty{}, f.specialties...)}
	for _, id := range f.order {
		b.Metrics = append(b.Metrics, *f.metrics[id])
	}
	return b
}

func copyGroups(groups []signal.SignalGroup) []signal.SignalGroup {
	out := make([]signal.SignalGroup, len(groups))
	for i, g := range groups {
		g.Signals = append([]signal.Signal{}, g.Signals...)
		out[i] = g
	}
	return out
}

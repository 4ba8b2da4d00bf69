package timerule

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Status is the verdict of a time rule.
type Status string

const (
	StatusPass     Status = "pass"
	StatusWarning  Status = "warning"
	StatusFail     Status = "fail"
	StatusInactive Status = "inactive"
)

// TimeRule is an elapsed-time target between two payload timestamps.
type TimeRule struct {
	TargetHours            float64  `json:"targetHours" yaml:"target_hours"`
	StartField             string   `json:"startField" yaml:"start_field"`
	EndField               string   `json:"endField" yaml:"end_field"`
	Description            string   `json:"description" yaml:"description"`
	WarningThresholdHours  *float64 `json:"warningThresholdHours,omitempty" yaml:"warning_threshold_hours"`
	CriticalThresholdHours *float64 `json:"criticalThresholdHours,omitempty" yaml:"critical_threshold_hours"`
}

// Validate checks a rule for load-time configuration errors.
func (r TimeRule) Validate() error {
	if r.StartField == "" || r.EndField == "" {
		return fmt.Errorf("start_field and end_field are required")
	}
	if r.TargetHours <= 0 {
		return fmt.Errorf("target_hours must be positive, got %v", r.TargetHours)
	}
	if r.WarningThresholdHours != nil && *r.WarningThresholdHours < r.TargetHours {
		return fmt.Errorf("warning_threshold_hours %v is below target_hours %v", *r.WarningThresholdHours, r.TargetHours)
	}
	return nil
}

// RuleSet maps module ids to their time rule.
type RuleSet map[string]TimeRule

type ruleFile struct {
	TimeRules RuleSet `yaml:"time_rules"`
}

//go:embed defaults.yaml
var defaultRules []byte

// DefaultRules returns the rule set compiled into the binary.
func DefaultRules() RuleSet {
	rs, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("timerule: embedded defaults: %v", err))
	}
	return rs
}

// ParseRules reads the time_rules section of a YAML rule file.
func ParseRules(data []byte) (RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse time rules: %w", err)
	}
	for id, r := range f.TimeRules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("time rule %s: %w", id, err)
		}
	}
	if f.TimeRules == nil {
		f.TimeRules = RuleSet{}
	}
	return f.TimeRules, nil
}

// LoadRules reads a rule file from disk and layers it over the defaults.
// An empty path returns the defaults unchanged.
func LoadRules(path string) (RuleSet, error) {
	rs := DefaultRules()
	if path == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	override, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	for id, r := range override {
		rs[id] = r
	}
	return rs, nil
}

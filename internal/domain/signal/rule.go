package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ehr/abstractor/internal/platform/payload"
)

// Top-level payload sections exposed to rule expressions, plus "payload"
// for the whole document.
var ruleVariables = []string{"patient", "times", "events", "clinical", "derived", "consults", "imaging"}

const ruleCostLimit = 100000

// RuleEngine compiles and evaluates signal rule expressions written in CEL.
// Compiled programs are cached per expression; an expression that fails to
// compile is cached as a failure so it is not recompiled on every case.
type RuleEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	failures map[string]error
}

// NewRuleEngine creates a CEL environment with every payload section
// declared as a dynamic variable.
func NewRuleEngine() (*RuleEngine, error) {
	opts := []cel.EnvOption{cel.Variable("payload", cel.DynType)}
	for _, name := range ruleVariables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}
	return &RuleEngine{
		env:      env,
		programs: make(map[string]cel.Program),
		failures: make(map[string]error),
	}, nil
}

// Compile compiles an expression, returning the cached program when one
// exists.
func (re *RuleEngine) Compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	re.mu.RLock()
	prog, ok := re.programs[expr]
	failed := re.failures[expr]
	re.mu.RUnlock()
	if ok {
		return prog, nil
	}
	if failed != nil {
		return nil, failed
	}

	prog, err := re.compile(expr)

	re.mu.Lock()
	defer re.mu.Unlock()
	if err != nil {
		re.failures[expr] = err
		return nil, err
	}
	re.programs[expr] = prog
	return prog, nil
}

func (re *RuleEngine) compile(expr string) (cel.Program, error) {
	ast, issues := re.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule: %w", issues.Err())
	}
	prog, err := re.env.Program(ast, cel.CostLimit(ruleCostLimit))
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}
	return prog, nil
}

// Eval runs an expression against a case. Runtime errors, such as reading
// a field of a missing section, yield inactive.
func (re *RuleEngine) Eval(expr string, p payload.Payload) (Status, error) {
	prog, err := re.Compile(expr)
	if err != nil {
		return StatusInactive, err
	}
	out, _, err := prog.Eval(activation(p))
	if err != nil {
		return StatusInactive, nil
	}
	return ToStatus(out.Value()), nil
}

func activation(p payload.Payload) map[string]interface{} {
	root := plain(p.Raw())
	doc, _ := root.(map[string]interface{})
	if doc == nil {
		doc = map[string]interface{}{}
	}
	vars := map[string]interface{}{"payload": doc}
	for _, name := range ruleVariables {
		if v, ok := doc[name]; ok && v != nil {
			vars[name] = v
		} else {
			vars[name] = map[string]interface{}{}
		}
	}
	return vars
}

// plain converts json.Number values into int64 or float64 so CEL can adapt
// them.
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	}
	return v
}

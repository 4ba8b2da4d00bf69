// Package canonical maps module-scoped alias signal ids to canonical ids so
// that signal sets from different producers can be joined.
package canonical

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/abstractor/internal/domain/signal"
)

// AliasTable maps module id -> alias id -> canonical id.
type AliasTable map[string]map[string]string

type aliasFile struct {
	Aliases AliasTable `yaml:"aliases"`
}

//go:embed aliases.yaml
var defaultAliases []byte

// Canonicalizer is an immutable alias lookup. It satisfies signal.IDMapper.
type Canonicalizer struct {
	table AliasTable
}

// New copies table into a canonicalizer.
func New(table AliasTable) *Canonicalizer {
	cp := make(AliasTable, len(table))
	for module, aliases := range table {
		m := make(map[string]string, len(aliases))
		for alias, canon := range aliases {
			m[alias] = canon
		}
		cp[module] = m
	}
	return &Canonicalizer{table: cp}
}

// Default returns a canonicalizer over the embedded alias table.
func Default() *Canonicalizer {
	t, err := ParseAliases(defaultAliases)
	if err != nil {
		panic(fmt.Sprintf("canonical: embedded aliases: %v", err))
	}
	return New(t)
}

// ParseAliases reads the aliases section of a YAML rule file.
func ParseAliases(data []byte) (AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	if f.Aliases == nil {
		f.Aliases = AliasTable{}
	}
	return f.Aliases, nil
}

// Load layers the aliases from a rule file over the embedded table. An empty
// path returns the defaults.
func Load(path string) (*Canonicalizer, error) {
	base, err := ParseAliases(defaultAliases)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules file %s: %w", path, err)
		}
		override, err := ParseAliases(data)
		if err != nil {
			return nil, err
		}
		for module, aliases := range override {
			if base[module] == nil {
				base[module] = map[string]string{}
			}
			for alias, canon := range aliases {
				base[module][alias] = canon
			}
		}
	}
	return New(base), nil
}

// Canonicalize returns the canonical id for signalID, or signalID itself
// when no alias is registered for the module.
func (c *Canonicalizer) Canonicalize(moduleID, signalID string) string {
	if c == nil {
		return signalID
	}
	if canon, ok := c.table[moduleID][signalID]; ok {
		return canon
	}
	return signalID
}

// CanonicalizeAll returns a copy of signals with canonical ids. Order and
// every other field are preserved.
func (c *Canonicalizer) CanonicalizeAll(moduleID string, signals []signal.Signal) []signal.Signal {
	out := make([]signal.Signal, len(signals))
	for i, s := range signals {
		s.ID = c.Canonicalize(moduleID, s.ID)
		out[i] = s
	}
	return out
}

// JoinReport compares a produced signal set against an expected catalog.
type JoinReport struct {
	Missing []string `json:"missing"`
	Extra   []string `json:"extra"`
	Matched []string `json:"matched"`
}

// Drift reports whether the two sets differ.
func (r JoinReport) Drift() bool {
	return len(r.Missing) > 0 || len(r.Extra) > 0
}

// DiffJoin compares produced and expected ids after canonicalization.
// Missing holds expected ids not produced, Extra holds produced ids not
// expected, Matched holds the intersection. Each list is sorted and free
// of duplicates.
func (c *Canonicalizer) DiffJoin(moduleID string, produced, expected []string) JoinReport {
	p := c.idSet(moduleID, produced)
	e := c.idSet(moduleID, expected)

	r := JoinReport{Missing: []string{}, Extra: []string{}, Matched: []string{}}
	for id := range e {
		if p[id] {
			r.Matched = append(r.Matched, id)
		} else {
			r.Missing = append(r.Missing, id)
		}
	}
	for id := range p {
		if !e[id] {
			r.Extra = append(r.Extra, id)
		}
	}
	sort.Strings(r.Missing)
	sort.Strings(r.Extra)
	sort.Strings(r.Matched)
	return r
}

// DiffJoinSignals is DiffJoin over signal values.
func (c *Canonicalizer) DiffJoinSignals(moduleID string, produced, expected []signal.Signal) JoinReport {
	return c.DiffJoin(moduleID, ids(produced), ids(expected))
}

func (c *Canonicalizer) idSet(moduleID string, list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, id := range list {
		if id == "" {
			continue
		}
		set[c.Canonicalize(moduleID, id)] = true
	}
	return set
}

func ids(signals []signal.Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = s.ID
	}
	return out
}

package followup

import (
	"fmt"
	"strings"
)

// ConfigError describes a follow-up configuration problem found at load time.
type ConfigError struct {
	Followup string
	Reason   string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("followup %s: %s", e.Followup, e.Reason)
}

// Validate checks a follow-up set for duplicate names, references to
// unknown follow-ups, and dependsOn cycles. It is meant for configuration
// load; the resolver itself never walks chains.
func Validate(all []Followup) []ConfigError {
	var errs []ConfigError
	byName := make(map[string]Followup, len(all))
	for _, f := range all {
		if f.FollowupName == "" {
			errs = append(errs, ConfigError{Followup: "(unnamed)", Reason: "missing followupName"})
			continue
		}
		if _, dup := byName[f.FollowupName]; dup {
			errs = append(errs, ConfigError{Followup: f.FollowupName, Reason: "duplicate name"})
			continue
		}
		byName[f.FollowupName] = f
	}

	for _, f := range all {
		if f.DependsOn == "" {
			continue
		}
		if _, ok := byName[f.DependsOn]; !ok {
			errs = append(errs, ConfigError{Followup: f.FollowupName, Reason: fmt.Sprintf("depends on unknown followup %q", f.DependsOn)})
		}
	}

	reported := map[string]bool{}
	for _, f := range all {
		chain := []string{f.FollowupName}
		visited := map[string]bool{f.FollowupName: true}
		cur := f
		for cur.DependsOn != "" {
			next, ok := byName[cur.DependsOn]
			if !ok {
				break
			}
			chain = append(chain, next.FollowupName)
			if visited[next.FollowupName] {
				if next.FollowupName == f.FollowupName && !reported[f.FollowupName] {
					for _, n := range chain {
						reported[n] = true
					}
					errs = append(errs, ConfigError{Followup: f.FollowupName, Reason: "dependsOn cycle " + strings.Join(chain, " -> ")})
				}
				break
			}
			visited[next.FollowupName] = true
			cur = next
		}
	}
	return errs
}

// Package correlate groups related alerts: by operator-authored rules,
// by time-series correlation, by density clustering, and by topology.
package correlate

import (
	"fmt"
	"slices"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Rule describes one correlation rule. Empty Service, Type, or Severity
// match any value; Threshold filters on the alert's measured value.
type Rule struct {
	Name      string
	Service   string
	Type      string
	Severity  string
	Threshold float64
	Window    time.Duration
}

// Validate checks the rule is well-formed.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule: name is required")
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive, got %s", r.Name, r.Window)
	}
	if r.Severity != "" {
		if _, err := alert.ParseSeverity(r.Severity); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

// matches reports whether a single alert passes the rule's filters.
func (r *Rule) matches(a *alert.Alert) bool {
	if r.Service != "" && a.Service != r.Service {
		return false
	}
	if r.Type != "" && a.Type != r.Type {
		return false
	}
	if r.Severity != "" {
		sev, err := alert.ParseSeverity(r.Severity)
		if err != nil || a.Severity != sev {
			return false
		}
	}
	return a.Value >= r.Threshold
}

// Group is a set of related alerts produced by one rule for one service.
type Group struct {
	Rule    string        `json:"rule"`
	Service string        `json:"service"`
	Alerts  []alert.Alert `json:"alerts"`
}

// Apply runs the rule over alerts and returns correlation groups. Alerts
// matching the filters are bucketed per service and grouped when two or
// more fall inside the rule's window, anchored at the first alert of
// each group. Single matches are not reported: a group needs company.
func (r *Rule) Apply(alerts []alert.Alert) []Group {
	byService := make(map[string][]alert.Alert)
	for i := range alerts {
		if r.matches(&alerts[i]) {
			byService[alerts[i].Service] = append(byService[alerts[i].Service], alerts[i])
		}
	}

	var groups []Group
	for _, service := range sortedKeys(byService) {
		matched := byService[service]
		slices.SortStableFunc(matched, func(a, b alert.Alert) int {
			return a.Timestamp.Compare(b.Timestamp)
		})

		for i := 0; i < len(matched); {
			end := matched[i].Timestamp.Add(r.Window)
			j := i + 1
			for j < len(matched) && !matched[j].Timestamp.After(end) {
				j++
			}
			if j-i > 1 {
				groups = append(groups, Group{
					Rule:    r.Name,
					Service: service,
					Alerts:  slices.Clone(matched[i:j]),
				})
			}
			i = j
		}
	}
	return groups
}

// ApplyRules runs every rule over the alerts and concatenates the groups.
func ApplyRules(rules []Rule, alerts []alert.Alert) []Group {
	var groups []Group
	for i := range rules {
		groups = append(groups, rules[i].Apply(alerts)...)
	}
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

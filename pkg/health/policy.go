// Package health classifies NPU devices as healthy, degraded or unhealthy
// by evaluating CEL rules against a snapshot of each device.
package health

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Result is the outcome of evaluating a device.
type Result string

const (
	ResultHealthy   Result = "healthy"
	ResultDegraded  Result = "degraded"
	ResultUnhealthy Result = "unhealthy"
)

func (r Result) severity() int {
	switch r {
	case ResultDegraded:
		return 1
	case ResultUnhealthy:
		return 2
	default:
		return 0
	}
}

// Policy is a set of rules. A device takes the worst result among the
// rules that match it, or healthy if none does.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// Rule maps a condition on a device snapshot to a result.
type Rule struct {
	Name string `yaml:"name"`

	// Condition is a CEL expression over `device`. See Snapshot for the
	// available keys. A condition that fails to evaluate, for example
	// because a sensor is missing, does not match.
	Condition string `yaml:"condition"`

	Result Result `yaml:"result"`

	// Priority breaks ties between matching rules of the same result when
	// reporting which rule decided. Higher wins.
	Priority int `yaml:"priority"`
}

// LoadPolicy reads a policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &policy, nil
}

// Validate checks that the policy is well formed. Conditions are compiled
// by NewEvaluator.
func (p *Policy) Validate() error {
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy must have at least one rule")
	}
	seen := make(map[string]bool, len(p.Rules))
	for i, rule := range p.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		seen[rule.Name] = true
		if rule.Condition == "" {
			return fmt.Errorf("rule %q: condition is required", rule.Name)
		}
		switch rule.Result {
		case ResultHealthy, ResultDegraded, ResultUnhealthy:
		default:
			return fmt.Errorf("rule %q: invalid result %q (must be healthy, degraded, or unhealthy)", rule.Name, rule.Result)
		}
	}
	return nil
}

// SortedRules returns the rules by descending priority, keeping definition
// order among equals.
func (p *Policy) SortedRules() []Rule {
	sorted := make([]Rule, len(p.Rules))
	copy(sorted, p.Rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// DefaultPolicy flags dead devices and overheating as unhealthy, and
// hardware error counters and high temperature as degraded.
func DefaultPolicy() *Policy {
	return &Policy{
		Rules: []Rule{
			{
				Name:      "not-alive",
				Condition: `!device.alive`,
				Result:    ResultUnhealthy,
				Priority:  100,
			},
			{
				Name:      "thermal-critical",
				Condition: `device.max_temperature >= 95.0`,
				Result:    ResultUnhealthy,
				Priority:  90,
			},
			{
				Name:      "thermal-warning",
				Condition: `device.max_temperature >= 85.0`,
				Result:    ResultDegraded,
				Priority:  50,
			},
			{
				Name:      "hardware-errors",
				Condition: `device.error_total > 0`,
				Result:    ResultDegraded,
				Priority:  40,
			},
			{
				Name:      "all-cores-unavailable",
				Condition: `device.cores_unavailable == device.core_num`,
				Result:    ResultDegraded,
				Priority:  10,
			},
		},
	}
}

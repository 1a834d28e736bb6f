package health

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	yaml := `
rules:
  - name: dead
    condition: '!device.alive'
    result: unhealthy
    priority: 100
  - name: warm
    condition: 'device.max_temperature > 80.0'
    result: degraded
    priority: 50
`
	policy, err := ParsePolicy([]byte(yaml))
	if err != nil {
		t.Fatalf("ParsePolicy() error = %v", err)
	}

	if len(policy.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(policy.Rules))
	}
	if policy.Rules[0].Name != "dead" {
		t.Errorf("Rules[0].Name = %q, want 'dead'", policy.Rules[0].Name)
	}
	if policy.Rules[0].Result != ResultUnhealthy {
		t.Errorf("Rules[0].Result = %q, want 'unhealthy'", policy.Rules[0].Result)
	}
	if policy.Rules[1].Priority != 50 {
		t.Errorf("Rules[1].Priority = %d, want 50", policy.Rules[1].Priority)
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "empty rules",
			yaml: `rules: []`,
		},
		{
			name: "missing name",
			yaml: `
rules:
  - condition: 'true'
    result: healthy
`,
		},
		{
			name: "missing condition",
			yaml: `
rules:
  - name: test
    result: healthy
`,
		},
		{
			name: "invalid result",
			yaml: `
rules:
  - name: test
    condition: 'true'
    result: broken
`,
		},
		{
			name: "duplicate name",
			yaml: `
rules:
  - name: test
    condition: 'true'
    result: healthy
  - name: test
    condition: 'false'
    result: degraded
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tt.yaml)); err == nil {
				t.Error("ParsePolicy() expected error")
			}
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "rules:\n  - name: always\n    condition: 'true'\n    result: degraded\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(policy.Rules) != 1 || policy.Rules[0].Result != ResultDegraded {
		t.Errorf("unexpected policy %+v", policy)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPolicy() expected error for missing file")
	}
}

func TestSortedRules(t *testing.T) {
	policy := &Policy{Rules: []Rule{
		{Name: "low", Priority: 1},
		{Name: "high-a", Priority: 10},
		{Name: "mid", Priority: 5},
		{Name: "high-b", Priority: 10},
	}}

	got := policy.SortedRules()
	want := []string{"high-a", "high-b", "mid", "low"}
	for i, rule := range got {
		if rule.Name != want[i] {
			t.Errorf("SortedRules()[%d] = %q, want %q", i, rule.Name, want[i])
		}
	}
	if policy.Rules[0].Name != "low" {
		t.Error("SortedRules() mutated the policy")
	}
}

func TestDefaultPolicy_Valid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy().Validate() = %v", err)
	}
}

package health

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/NavarchProject/npudev/pkg/npu"
)

// Evaluator evaluates device snapshots against a policy.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	policy   *Policy
	programs map[string]cel.Program
}

// Evaluation is the health of one device.
type Evaluation struct {
	Device string `json:"device"`
	Status Result `json:"status"`
	// Rule names the rule that decided Status. Empty when no rule matched.
	Rule string `json:"rule,omitempty"`
	// Matches lists every matching rule in priority order.
	Matches []string `json:"matches,omitempty"`
}

// NewEvaluator compiles every rule of policy.
func NewEvaluator(policy *Policy) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("device", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e := &Evaluator{env: env}
	if err := e.UpdatePolicy(policy); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Evaluator) compile(policy *Policy) (map[string]cel.Program, error) {
	programs := make(map[string]cel.Program, len(policy.Rules))
	for _, rule := range policy.Rules {
		ast, issues := e.env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for rule %q: %w", rule.Name, err)
		}
		programs[rule.Name] = program
	}
	return programs, nil
}

// UpdatePolicy swaps in a new policy. The old one stays in force if the
// new one does not compile.
func (e *Evaluator) UpdatePolicy(policy *Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	programs, err := e.compile(policy)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policy = policy
	e.programs = programs
	e.mu.Unlock()
	return nil
}

// Policy returns the policy in force.
func (e *Evaluator) Policy() *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Evaluate classifies a snapshot as produced by Snapshot.
func (e *Evaluator) Evaluate(snapshot map[string]any) Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	name, _ := snapshot["name"].(string)
	result := Evaluation{Device: name, Status: ResultHealthy}
	for _, rule := range e.policy.SortedRules() {
		out, _, err := e.programs[rule.Name].Eval(map[string]any{"device": snapshot})
		if err != nil || out.Type() != types.BoolType || out.Value() != true {
			continue
		}
		result.Matches = append(result.Matches, rule.Name)
		if result.Rule == "" || rule.Result.severity() > result.Status.severity() {
			result.Status = rule.Result
			result.Rule = rule.Name
		}
	}
	return result
}

// EvaluateDevice snapshots d and evaluates it. Attributes that cannot be
// read are left out of the snapshot and reported in the returned error
// alongside the evaluation.
func (e *Evaluator) EvaluateDevice(ctx context.Context, d *npu.Device) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{Device: d.Name()}, err
	}
	snapshot, err := Snapshot(d)
	return e.Evaluate(snapshot), err
}

// Snapshot collects the state rules can refer to:
//
//	name, arch               string
//	index, core_num          int
//	alive                    bool
//	heartbeat                int
//	errors                   map of error counter label to int
//	error_total              int
//	temperatures             map of sensor label to degrees Celsius
//	max_temperature          double, degrees Celsius
//	power_watts              double, sum of average power sensors
//	cores_available          int
//	cores_occupied           int
//	cores_unavailable        int
//
// Keys whose source cannot be read are omitted.
func Snapshot(d *npu.Device) (map[string]any, error) {
	s := map[string]any{
		"name":     d.Name(),
		"arch":     d.Arch().String(),
		"index":    int64(d.Index()),
		"core_num": int64(d.CoreNum()),
	}
	var failures []error

	if alive, err := d.Alive(); err != nil {
		failures = append(failures, err)
	} else {
		s["alive"] = alive
	}

	if hb, err := d.Heartbeat(); err != nil {
		failures = append(failures, err)
	} else {
		s["heartbeat"] = int64(hb)
	}

	if states, err := d.ErrorStates(); err != nil {
		failures = append(failures, err)
	} else {
		counters := make(map[string]any, len(states))
		var total int64
		for _, p := range states {
			counters[p.Label] = int64(p.Value)
			total += int64(p.Value)
		}
		s["errors"] = counters
		s["error_total"] = total
	}

	fetcher := npu.NewSensorFetcher(d)
	temps, err := fetcher.ReadTemperatures()
	if err != nil {
		failures = append(failures, err)
	}
	if len(temps) > 0 {
		byLabel := make(map[string]any, len(temps))
		max := float64(temps[0].Value) / 1e3
		for _, v := range temps {
			c := float64(v.Value) / 1e3
			byLabel[v.Label] = c
			if c > max {
				max = c
			}
		}
		s["temperatures"] = byLabel
		s["max_temperature"] = max
	}

	powers, err := fetcher.ReadPowersAverage()
	if err != nil {
		failures = append(failures, err)
	}
	if len(powers) > 0 {
		var total float64
		for _, v := range powers {
			total += float64(v.Value) / 1e6
		}
		s["power_watts"] = total
	}

	statuses, err := d.AllCoreStatus()
	if err != nil {
		failures = append(failures, err)
	}
	if statuses != nil {
		counts := map[npu.CoreState]int64{}
		for _, st := range statuses {
			counts[st.State]++
		}
		s["cores_available"] = counts[npu.CoreAvailable]
		s["cores_occupied"] = counts[npu.CoreOccupied]
		s["cores_unavailable"] = counts[npu.CoreUnavailable]
	}

	return s, errors.Join(failures...)
}

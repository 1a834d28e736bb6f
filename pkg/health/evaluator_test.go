package health

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NavarchProject/npudev/pkg/npu"
)

func TestNewEvaluator_InvalidCondition(t *testing.T) {
	policy := &Policy{Rules: []Rule{
		{Name: "bad-syntax", Condition: "device.errors[", Result: ResultHealthy},
	}}
	if _, err := NewEvaluator(policy); err == nil {
		t.Error("NewEvaluator() should fail for invalid CEL syntax")
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	eval, err := NewEvaluator(DefaultPolicy())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	base := func(overrides map[string]any) map[string]any {
		s := map[string]any{
			"name":              "npu0",
			"alive":             true,
			"error_total":       int64(0),
			"max_temperature":   45.0,
			"core_num":          int64(2),
			"cores_unavailable": int64(0),
		}
		for k, v := range overrides {
			s[k] = v
		}
		return s
	}

	tests := []struct {
		name     string
		snapshot map[string]any
		want     Evaluation
	}{
		{
			name:     "healthy",
			snapshot: base(nil),
			want:     Evaluation{Device: "npu0", Status: ResultHealthy},
		},
		{
			name:     "dead device",
			snapshot: base(map[string]any{"alive": false, "cores_unavailable": int64(2)}),
			want: Evaluation{
				Device:  "npu0",
				Status:  ResultUnhealthy,
				Rule:    "not-alive",
				Matches: []string{"not-alive", "all-cores-unavailable"},
			},
		},
		{
			name:     "hot",
			snapshot: base(map[string]any{"max_temperature": 96.5}),
			want: Evaluation{
				Device:  "npu0",
				Status:  ResultUnhealthy,
				Rule:    "thermal-critical",
				Matches: []string{"thermal-critical", "thermal-warning"},
			},
		},
		{
			name:     "warm with errors",
			snapshot: base(map[string]any{"max_temperature": 88.0, "error_total": int64(3)}),
			want: Evaluation{
				Device:  "npu0",
				Status:  ResultDegraded,
				Rule:    "thermal-warning",
				Matches: []string{"thermal-warning", "hardware-errors"},
			},
		},
		{
			name: "missing sensor does not match",
			snapshot: map[string]any{
				"name":  "npu0",
				"alive": true,
			},
			want: Evaluation{Device: "npu0", Status: ResultHealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eval.Evaluate(tt.snapshot)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluator_UpdatePolicy(t *testing.T) {
	eval, err := NewEvaluator(DefaultPolicy())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	bad := &Policy{Rules: []Rule{{Name: "bad", Condition: "device.", Result: ResultDegraded}}}
	if err := eval.UpdatePolicy(bad); err == nil {
		t.Fatal("UpdatePolicy() should reject an invalid policy")
	}
	if eval.Policy() == bad {
		t.Error("invalid policy was installed")
	}

	strict := &Policy{Rules: []Rule{
		{Name: "arch", Condition: `device.arch == "rngd"`, Result: ResultDegraded},
	}}
	if err := eval.UpdatePolicy(strict); err != nil {
		t.Fatalf("UpdatePolicy() error = %v", err)
	}
	got := eval.Evaluate(map[string]any{"name": "npu1", "arch": "rngd"})
	if got.Status != ResultDegraded || got.Rule != "arch" {
		t.Errorf("Evaluate() = %+v, want degraded by arch", got)
	}
}

func newDevice(t *testing.T, arch npu.Arch, hwmon map[string]string) (*npu.Fake, *npu.Device) {
	t.Helper()
	fake := npu.NewFake()
	fake.Mkdir("/dev")
	fake.AddDevice("/dev", "/sys", npu.FakeDevice{Arch: arch, Index: 0, Hwmon: hwmon})
	r := npu.NewRegistry(fake, npu.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	d, err := r.GetDevice(0)
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	return fake, d
}

func TestSnapshot(t *testing.T) {
	_, d := newDevice(t, npu.ArchWarboy, map[string]string{
		"temp1_input":    "40000\n",
		"temp2_input":    "52500\n",
		"temp2_label":    "soc\n",
		"power1_average": "12000000\n",
		"power2_average": "3000000\n",
	})

	s, err := Snapshot(d)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	want := map[string]any{
		"name":              "npu0",
		"arch":              "warboy",
		"index":             int64(0),
		"core_num":          int64(2),
		"alive":             true,
		"heartbeat":         int64(42),
		"errors":            map[string]any{"axi_post_error": int64(0), "axi_fetch_error": int64(0), "axi_discard_error": int64(0)},
		"error_total":       int64(0),
		"temperatures":      map[string]any{"1": 40.0, "soc": 52.5},
		"max_temperature":   52.5,
		"power_watts":       15.0,
		"cores_available":   int64(2),
		"cores_occupied":    int64(0),
		"cores_unavailable": int64(0),
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_PartialCoreStatus(t *testing.T) {
	fake, d := newDevice(t, npu.ArchWarboy, nil)
	fake.InjectError("/dev/npu0pe1", fs.ErrPermission)

	s, err := Snapshot(d)
	if npu.CodeOf(err) != npu.CodePermissionDenied {
		t.Fatalf("Snapshot() error = %v, want permission denied", err)
	}
	want := map[string]any{
		"cores_available":   int64(1),
		"cores_occupied":    int64(0),
		"cores_unavailable": int64(1),
	}
	got := map[string]any{}
	for k := range want {
		got[k] = s[k]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("core counts mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateDevice(t *testing.T) {
	fake, d := newDevice(t, npu.ArchWarboy, map[string]string{"temp1_input": "97000\n"})
	eval, err := NewEvaluator(DefaultPolicy())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	got, err := eval.EvaluateDevice(context.Background(), d)
	if err != nil {
		t.Fatalf("EvaluateDevice() error = %v", err)
	}
	if got.Status != ResultUnhealthy || got.Rule != "thermal-critical" {
		t.Errorf("EvaluateDevice() = %+v, want unhealthy by thermal-critical", got)
	}

	// An unreadable heartbeat is reported but does not stop evaluation.
	fake.RemoveFile("/sys/class/npu_mgmt/npu0_mgmt/heartbeat")
	got, err = eval.EvaluateDevice(context.Background(), d)
	if err == nil {
		t.Error("expected heartbeat error")
	}
	if got.Status != ResultUnhealthy {
		t.Errorf("Status = %v, want unhealthy", got.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eval.EvaluateDevice(ctx, d); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

package npu

import (
	"testing"
)

func TestParseDeviceConfig(t *testing.T) {
	tests := []struct {
		input   string
		want    DeviceConfig
		wantErr Code
	}{
		{input: "warboy*2", want: DeviceConfig{Arch: ArchWarboy, Mode: ModeSingle, Count: 2}},
		{input: "warboy(1)*2", want: DeviceConfig{Arch: ArchWarboy, Mode: ModeSingle, Count: 2}},
		{input: "warboy(2)*1", want: DeviceConfig{Arch: ArchWarboy, Mode: ModeFusion, Cores: 2, Count: 1}},
		{input: "RNGD(4)*1", want: DeviceConfig{Arch: ArchRNGD, Mode: ModeFusion, Cores: 4, Count: 1}},
		{input: "*(fusion)*3", want: DeviceConfig{Arch: ArchAny, Mode: ModeFusion, Count: 3}},
		{input: "warboy(all)*1", want: DeviceConfig{Arch: ArchWarboy, Mode: ModeMultiCore, Count: 1}},
		{input: " npu:0:1 ", want: DeviceConfig{Arch: ArchAny, Name: "npu0pe1", Count: 1}},
		{input: "npu:2:0-1", want: DeviceConfig{Arch: ArchAny, Name: "npu2pe0-1", Count: 1}},
		{input: "npu:0:1-0", wantErr: CodeInvalidInput},
		{input: "warboy(4)*1", wantErr: CodeInvalidInput},
		{input: "rngd(3)*1", wantErr: CodeInvalidInput},
		{input: "warboy*0", wantErr: CodeParse},
		{input: "h100*1", wantErr: CodeParse},
		{input: "warboy", wantErr: CodeParse},
		{input: "", wantErr: CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDeviceConfig(tt.input)
			if tt.wantErr != CodeOK {
				wantCode(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("ParseDeviceConfig(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceConfig(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDeviceConfigs_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"npu:0:1,warboy*2",
		"npu:1:0-1,rngd(4)*1",
		"*(fusion)*1",
		"warboy(all)*1,warboy(2)*1",
	} {
		cfgs, err := ParseDeviceConfigs(s)
		if err != nil {
			t.Fatalf("ParseDeviceConfigs(%q) failed: %v", s, err)
		}
		if got := FormatDeviceConfigs(cfgs); got != s {
			t.Errorf("FormatDeviceConfigs = %q, want %q", got, s)
		}
	}
}

func TestParseDeviceConfigs_NamedFirst(t *testing.T) {
	cfgs, err := ParseDeviceConfigs("warboy*1,npu:0:0,rngd*2,npu:1:1")
	if err != nil {
		t.Fatalf("ParseDeviceConfigs failed: %v", err)
	}
	want := []string{"npu0pe0", "npu1pe1", "", ""}
	for i, c := range cfgs {
		if c.Name != want[i] {
			t.Errorf("cfgs[%d].Name = %q, want %q", i, c.Name, want[i])
		}
	}
	if cfgs[2].Arch != ArchWarboy || cfgs[3].Arch != ArchRNGD {
		t.Errorf("unnamed order changed: %v", cfgs)
	}
}

func TestEnvBuilder(t *testing.T) {
	env := map[string]string{
		"NPU_DEVICES":  "rngd(2)*1",
		"NPU_FALLBACK": "warboy*2",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	tests := []struct {
		name    string
		builder *EnvBuilder
		want    string
	}{
		{
			name:    "first env wins",
			builder: ConfigFromEnv("NPU_DEVICES").OrEnv("NPU_FALLBACK").WithLookup(lookup),
			want:    "rngd(2)*1",
		},
		{
			name:    "falls through to second env",
			builder: ConfigFromEnv("UNSET").OrEnv("NPU_FALLBACK").WithLookup(lookup),
			want:    "warboy*2",
		},
		{
			name:    "literal",
			builder: ConfigFromEnv("UNSET").OrTry("").OrTry("npu:0:0").OrDefault().WithLookup(lookup),
			want:    "npu:0:0",
		},
		{
			name:    "default",
			builder: ConfigFromEnv("UNSET").OrDefault().WithLookup(lookup),
			want:    "warboy(2)*1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgs, err := tt.builder.Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if got := FormatDeviceConfigs(cfgs); got != tt.want {
				t.Errorf("Build = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := ConfigFromEnv("UNSET").WithLookup(lookup).Build(); err == nil {
		t.Error("Expected error without fallback")
	}
}

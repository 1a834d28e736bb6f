package npu

import (
	"testing"
)

func TestParseDeviceFileName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ParsedName
		wantErr Code
	}{
		{name: "whole device", input: "npu0", want: ParsedName{Index: 0}},
		{name: "single core", input: "npu1pe1", want: ParsedName{Index: 1, HasCores: true, Start: 1, End: 1}},
		{name: "fused range", input: "npu2pe0-1", want: ParsedName{Index: 2, HasCores: true, Start: 0, End: 1}},
		{name: "wide range", input: "npu10pe4-7", want: ParsedName{Index: 10, HasCores: true, Start: 4, End: 7}},
		{name: "reversed range", input: "npu0pe2-1", wantErr: CodeInvalidInput},
		{name: "wrong prefix", input: "gpu0", wantErr: CodeParse},
		{name: "missing index", input: "npu", wantErr: CodeParse},
		{name: "missing core", input: "npu0pe", wantErr: CodeParse},
		{name: "dangling dash", input: "npu0pe0-", wantErr: CodeParse},
		{name: "negative index", input: "npu-1", wantErr: CodeParse},
		{name: "trailing text", input: "npu0pe0_mgmt", wantErr: CodeParse},
		{name: "index overflow", input: "npu99999999999999999999999", wantErr: CodeParse},
		{name: "empty", input: "", wantErr: CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeviceFileName(tt.input)
			if tt.wantErr != CodeOK {
				wantCode(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("ParseDeviceFileName(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceFileName(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatDeviceFileName_RoundTrip(t *testing.T) {
	for _, name := range []string{"npu0", "npu3", "npu0pe0", "npu1pe1", "npu0pe0-1", "npu7pe4-7"} {
		p, err := ParseDeviceFileName(name)
		if err != nil {
			t.Fatalf("ParseDeviceFileName(%q) failed: %v", name, err)
		}
		r, _, err := p.Validate(8)
		if err != nil {
			t.Fatalf("Validate(%q) failed: %v", name, err)
		}
		if got := FormatDeviceFileName(p.Index, r); got != name {
			t.Errorf("FormatDeviceFileName = %q, want %q", got, name)
		}
	}
}

func TestParsedName_Validate(t *testing.T) {
	tests := []struct {
		input     string
		coreNum   int
		wantRange CoreRange
		wantMode  DeviceMode
		wantErr   bool
	}{
		{input: "npu0", coreNum: 2, wantRange: AllCores, wantMode: ModeMultiCore},
		{input: "npu0pe1", coreNum: 2, wantRange: SingleCore(1), wantMode: ModeSingle},
		{input: "npu0pe0-1", coreNum: 2, wantRange: CoreRange{Start: 0, End: 1}, wantMode: ModeFusion},
		{input: "npu0pe4-7", coreNum: 8, wantRange: CoreRange{Start: 4, End: 7}, wantMode: ModeFusion},
		{input: "npu0pe2", coreNum: 2, wantErr: true},
		{input: "npu0pe0-3", coreNum: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParseDeviceFileName(tt.input)
			if err != nil {
				t.Fatalf("ParseDeviceFileName failed: %v", err)
			}
			r, mode, err := p.Validate(tt.coreNum)
			if tt.wantErr {
				wantCode(t, err, CodeInvalidInput)
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if r != tt.wantRange {
				t.Errorf("range = %v, want %v", r, tt.wantRange)
			}
			if mode != tt.wantMode {
				t.Errorf("mode = %v, want %v", mode, tt.wantMode)
			}
		})
	}
}

func TestParseDeviceMode(t *testing.T) {
	for _, m := range []DeviceMode{ModeSingle, ModeFusion, ModeMultiCore} {
		got, err := ParseDeviceMode(m.String())
		if err != nil {
			t.Fatalf("ParseDeviceMode(%q) failed: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseDeviceMode(%q) = %v", m, got)
		}
	}
	if _, err := ParseDeviceMode("dual"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

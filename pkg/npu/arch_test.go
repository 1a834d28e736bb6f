package npu

import "testing"

func TestParseArch(t *testing.T) {
	tests := []struct {
		input   string
		want    Arch
		wantErr bool
	}{
		{input: "warboy", want: ArchWarboy},
		{input: "Warboy", want: ArchWarboy},
		{input: "WarboyB0", want: ArchWarboy},
		{input: "rngd", want: ArchRNGD},
		{input: "Renegade", want: ArchRNGD},
		{input: " RNGD\n", want: ArchRNGD},
		{input: "h100", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseArch(tt.input)
			if tt.wantErr {
				wantCode(t, err, CodeUnknownArch)
				return
			}
			if err != nil {
				t.Fatalf("ParseArch(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseArch(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIdentifyArch(t *testing.T) {
	if a, err := identifyArch("Warboy", "B0"); err != nil || a != ArchWarboy {
		t.Errorf("identifyArch(Warboy, B0) = %v, %v", a, err)
	}
	if a, err := identifyArch("RNGD", "A0"); err != nil || a != ArchRNGD {
		t.Errorf("identifyArch(RNGD, A0) = %v, %v", a, err)
	}
	if _, err := identifyArch("Alveo", ""); err == nil {
		t.Error("Expected error for unknown device type")
	}
}

func TestArch_Cores(t *testing.T) {
	if got := ArchWarboy.CoreNum(); got != 2 {
		t.Errorf("Warboy CoreNum = %d, want 2", got)
	}
	if got := ArchRNGD.CoreNum(); got != 8 {
		t.Errorf("RNGD CoreNum = %d, want 8", got)
	}

	fusible := []struct {
		arch Arch
		n    int
		want bool
	}{
		{ArchWarboy, 1, true},
		{ArchWarboy, 2, true},
		{ArchWarboy, 4, false},
		{ArchRNGD, 4, true},
		{ArchRNGD, 3, false},
		{ArchRNGD, 8, false},
		{ArchAny, 3, true},
		{ArchAny, 0, false},
	}
	for _, tt := range fusible {
		if got := tt.arch.IsFusible(tt.n); got != tt.want {
			t.Errorf("%v.IsFusible(%d) = %v, want %v", tt.arch, tt.n, got, tt.want)
		}
	}
}

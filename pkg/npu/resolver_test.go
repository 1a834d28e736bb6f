package npu

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindDeviceFiles_SkipsOccupiedCores(t *testing.T) {
	r, fake, d := newQuadCore(t)
	fake.SetOccupancy("/dev/rngd/npu0pe0", OccupancyBusy)

	// npu0pe0-1 now answers busy too, but core 1 is still free.
	if st, err := d.CoreStatus(1); err != nil || st != StatusAvailable {
		t.Fatalf("CoreStatus(1) = %v, %v, want available", st, err)
	}

	_, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchAny, Mode: ModeFusion, Count: 1})
	wantCode(t, err, CodeDeviceNotFound)

	files, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchAny, Mode: ModeSingle, Count: 1})
	if err != nil {
		t.Fatalf("FindDeviceFiles failed: %v", err)
	}
	if diff := cmp.Diff([]string{"npu0pe1"}, fileNames(files)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestFindDeviceFiles_OpenTestFailure(t *testing.T) {
	r, fake := newTestRegistry(t, FakeDevice{Arch: ArchWarboy, Index: 0})
	fake.InjectError("/dev/npu0pe1", fs.ErrPermission)

	files, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchWarboy, Mode: ModeSingle, Count: 2})
	wantCode(t, err, CodePermissionDenied)
	if files != nil {
		t.Errorf("Expected no files on failure, got %v", fileNames(files))
	}
}

// Candidates are taken in (device index, first core) order, so requests
// pack lower-indexed devices first.
func TestFindDeviceFiles_Packing(t *testing.T) {
	r, _ := newTestRegistry(t,
		FakeDevice{Arch: ArchWarboy, Index: 0},
		FakeDevice{Arch: ArchWarboy, Index: 1},
	)

	tests := []struct {
		name string
		cfg  DeviceConfig
		want []string
	}{
		{
			name: "singles fill npu0 first",
			cfg:  DeviceConfig{Arch: ArchWarboy, Mode: ModeSingle, Count: 3},
			want: []string{"npu0pe0", "npu0pe1", "npu1pe0"},
		},
		{
			name: "fused pairs",
			cfg:  DeviceConfig{Arch: ArchWarboy, Mode: ModeFusion, Cores: 2, Count: 2},
			want: []string{"npu0pe0-1", "npu1pe0-1"},
		},
		{
			name: "whole device",
			cfg:  DeviceConfig{Arch: ArchAny, Mode: ModeMultiCore, Count: 1},
			want: []string{"npu0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				files, err := FindDeviceFiles(r, tt.cfg)
				if err != nil {
					t.Fatalf("FindDeviceFiles failed: %v", err)
				}
				if diff := cmp.Diff(tt.want, fileNames(files)); diff != "" {
					t.Errorf("run %d files mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestFindDeviceFiles_AllOrNothing(t *testing.T) {
	r, fake := newTestRegistry(t,
		FakeDevice{Arch: ArchWarboy, Index: 0},
		FakeDevice{Arch: ArchWarboy, Index: 1},
	)
	fake.SetOccupancy("/dev/npu1pe1", OccupancyBusy)

	files, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchWarboy, Mode: ModeFusion, Count: 2})
	wantCode(t, err, CodeDeviceNotFound)
	if files != nil {
		t.Errorf("Expected no files on failure, got %v", fileNames(files))
	}
}

func TestFindDeviceFiles_ArchFilter(t *testing.T) {
	r, _ := newTestRegistry(t,
		FakeDevice{Arch: ArchWarboy, Index: 0},
		FakeDevice{Arch: ArchRNGD, Index: 1},
	)

	files, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchRNGD, Mode: ModeSingle, Count: 1})
	if err != nil {
		t.Fatalf("FindDeviceFiles failed: %v", err)
	}
	if diff := cmp.Diff([]string{"npu1pe0"}, fileNames(files)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if files[0].Path != "/dev/rngd/npu1pe0" {
		t.Errorf("Path = %q", files[0].Path)
	}
}

func TestFindDeviceFiles_InvalidCount(t *testing.T) {
	r, _ := newTestRegistry(t, FakeDevice{Arch: ArchWarboy, Index: 0})
	_, err := FindDeviceFiles(r, DeviceConfig{Arch: ArchAny, Mode: ModeSingle, Count: 0})
	wantCode(t, err, CodeInvalidInput)
}

func TestFindDeviceFilesFor_NoOverlap(t *testing.T) {
	r, _ := newTestRegistry(t,
		FakeDevice{Arch: ArchWarboy, Index: 0},
		FakeDevice{Arch: ArchWarboy, Index: 1},
	)
	cfgs, err := ParseDeviceConfigs("warboy*1,npu:0:0-1")
	if err != nil {
		t.Fatalf("ParseDeviceConfigs failed: %v", err)
	}

	files, err := FindDeviceFilesFor(r, cfgs...)
	if err != nil {
		t.Fatalf("FindDeviceFilesFor failed: %v", err)
	}
	if diff := cmp.Diff([]string{"npu0pe0-1", "npu1pe0"}, fileNames(files)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestFindDeviceFilesContext(t *testing.T) {
	r, _ := newTestRegistry(t, FakeDevice{Arch: ArchWarboy, Index: 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FindDeviceFilesContext(ctx, r, DefaultDeviceConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	_, err = FindDeviceFilesForContext(ctx, r, DefaultDeviceConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestGetDeviceFile(t *testing.T) {
	r, fake := newTestRegistry(t, FakeDevice{
		Arch:  ArchWarboy,
		Index: 0,
		Files: []string{"npu0", "npu0pe0", "npu0pe1"},
	})
	fake.SetOccupancy("/dev/npu0pe1", OccupancyBusy)

	tests := []struct {
		name    string
		want    DeviceFile
		wantErr Code
	}{
		{name: "npu0pe1", want: DeviceFile{DeviceIndex: 0, CoreRange: SingleCore(1), Path: "/dev/npu0pe1", Mode: ModeSingle}},
		{name: "npu0", want: DeviceFile{DeviceIndex: 0, CoreRange: AllCores, Path: "/dev/npu0", Mode: ModeMultiCore}},
		{name: "npu0pe2-1", wantErr: CodeInvalidInput},
		{name: "npu0pe0-1", wantErr: CodeDeviceNotFound},
		{name: "npu0pe3", wantErr: CodeInvalidInput},
		{name: "npu4", wantErr: CodeDeviceNotFound},
		{name: "tpu0", wantErr: CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetDeviceFile(r, tt.name)
			if tt.wantErr != CodeOK {
				wantCode(t, err, tt.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("GetDeviceFile failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("GetDeviceFile = %+v, want %+v", got, tt.want)
			}
		})
	}
}

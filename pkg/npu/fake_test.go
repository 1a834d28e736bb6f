package npu

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFake_ListDir(t *testing.T) {
	fake := NewFake()
	fake.SetFile("/dev/npu0", "")
	fake.SetFile("/dev/rngd/npu1", "")
	fake.Mkdir("/dev/empty")

	names, err := fake.ListDir("/dev")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if diff := cmp.Diff([]string{"empty", "npu0", "rngd"}, names); diff != "" {
		t.Errorf("ListDir mismatch (-want +got):\n%s", diff)
	}

	names, err = fake.ListDir("/dev/empty")
	if err != nil || len(names) != 0 {
		t.Errorf("ListDir(empty) = %v, %v", names, err)
	}

	if _, err := fake.ListDir("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected not-exist, got %v", err)
	}
}

func TestFake_InjectError(t *testing.T) {
	fake := NewFake()
	fake.SetFile("/sys/x", "1\n")
	injected := errors.New("io failure")

	fake.InjectError("/sys/x", injected)
	if _, err := fake.ReadString("/sys/x"); !errors.Is(err, injected) {
		t.Errorf("Expected injected error, got %v", err)
	}

	fake.InjectError("/sys/x", nil)
	s, err := fake.ReadString("/sys/x")
	if err != nil || s != "1\n" {
		t.Errorf("ReadString = %q, %v", s, err)
	}
}

func TestFake_Realpath(t *testing.T) {
	fake := NewFake()
	fake.Mkdir("/sys/devices/pci0000:00/0000:00:01.0/0000:51:00.0/hwmon")
	fake.SetLink("/sys/bus/pci/devices/0000:51:00.0", "/sys/devices/pci0000:00/0000:00:01.0/0000:51:00.0")
	fake.SetLink("/sys/bus/pci/devices/loop", "/sys/bus/pci/devices/loop")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "link", path: "/sys/bus/pci/devices/0000:51:00.0", want: "/sys/devices/pci0000:00/0000:00:01.0/0000:51:00.0"},
		{name: "below link", path: "/sys/bus/pci/devices/0000:51:00.0/hwmon", want: "/sys/devices/pci0000:00/0000:00:01.0/0000:51:00.0/hwmon"},
		{name: "plain dir", path: "/sys/devices", want: "/sys/devices"},
		{name: "missing", path: "/sys/bus/pci/devices/0000:52:00.0", wantErr: true},
		{name: "loop", path: "/sys/bus/pci/devices/loop", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fake.Realpath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Realpath(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Realpath(%q) = %q, %v, want %q", tt.path, got, err, tt.want)
			}
		})
	}
}

func TestFake_OpenTest(t *testing.T) {
	fake := NewFake()
	fake.SetFile("/dev/npu0pe0", "")
	fake.SetOccupancy("/dev/npu0pe0", OccupancyBusy)

	occ, err := fake.OpenTest("/dev/npu0pe0")
	if err != nil || occ != OccupancyBusy {
		t.Errorf("OpenTest = %v, %v", occ, err)
	}
	if _, err := fake.OpenTest("/dev/npu9"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected not-exist, got %v", err)
	}
}

func TestFake_OpenTestSharedCores(t *testing.T) {
	fake := NewFake()
	for _, name := range []string{"npu0", "npu0pe0", "npu0pe1", "npu0pe2", "npu0pe0-1", "npu0pe2-3", "npu1pe0"} {
		fake.SetFile("/dev/"+name, "")
	}
	fake.SetOccupancy("/dev/npu0pe1", OccupancyBusy)
	fake.SetOccupancy("/dev/npu0pe2-3", OccupancyFailed)

	tests := []struct {
		file string
		want Occupancy
	}{
		{"npu0pe1", OccupancyBusy},
		{"npu0pe0-1", OccupancyBusy},
		{"npu0", OccupancyBusy},
		{"npu0pe0", OccupancyFree},
		{"npu0pe2", OccupancyFree},
		{"npu0pe2-3", OccupancyFailed},
		{"npu1pe0", OccupancyFree},
	}
	for _, tt := range tests {
		got, err := fake.OpenTest("/dev/" + tt.file)
		if err != nil {
			t.Fatalf("OpenTest(%s) failed: %v", tt.file, err)
		}
		if got != tt.want {
			t.Errorf("OpenTest(%s) = %v, want %v", tt.file, got, tt.want)
		}
	}
}

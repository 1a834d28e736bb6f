package npu

import (
	"io"
	"log/slog"
	"testing"
)

const (
	testDevfs = "/dev"
	testSysfs = "/sys"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, devices ...FakeDevice) (*Registry, *Fake) {
	t.Helper()
	fake := NewFake()
	fake.Mkdir(testDevfs)
	for _, d := range devices {
		fake.AddDevice(testDevfs, testSysfs, d)
	}
	r := NewRegistry(fake, WithDevfs(testDevfs), WithSysfs(testSysfs), WithLogger(discardLogger()))
	return r, fake
}

func mustGetDevice(t *testing.T, r *Registry, index int) *Device {
	t.Helper()
	d, err := r.GetDevice(index)
	if err != nil {
		t.Fatalf("GetDevice(%d) failed: %v", index, err)
	}
	return d
}

func fileNames(files []DeviceFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name()
	}
	return names
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("expected %s error, got %s: %v", code, got, err)
	}
}

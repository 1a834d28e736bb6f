package npu

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Two packages with two host bridges each, two NPUs behind every bridge.
var twoSocketBusNames = []string{
	"0000:27:00.0", "0000:2a:00.0",
	"0000:51:00.0", "0000:57:00.0",
	"0000:9e:00.0", "0000:a4:00.0",
	"0000:c7:00.0", "0000:ca:00.0",
}

func twoSocketDevices() []FakeDevice {
	bridges := []string{"pci0000:20", "pci0000:40", "pci0000:80", "pci0000:c0"}
	devices := make([]FakeDevice, len(twoSocketBusNames))
	for i, bus := range twoSocketBusNames {
		hb := bridges[i/2]
		root := hb[3:]
		devices[i] = FakeDevice{
			Arch:     ArchWarboy,
			Index:    i,
			BusName:  bus,
			PCIPath:  []string{hb, root + ":01.1"},
			NUMANode: i / 4,
		}
	}
	return devices
}

func TestReadTopology_TwoSockets(t *testing.T) {
	r, _ := newTestRegistry(t, twoSocketDevices()...)
	devices, err := r.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}

	topo, err := ReadTopology(devices)
	if err != nil {
		t.Fatalf("ReadTopology failed: %v", err)
	}
	if diff := cmp.Diff(twoSocketBusNames, topo.BusNames()); diff != "" {
		t.Errorf("BusNames mismatch (-want +got):\n%s", diff)
	}

	for i, a := range twoSocketBusNames {
		for j, b := range twoSocketBusNames {
			want := LinkInterconnect
			switch {
			case i == j:
				want = LinkSoc
			case i/2 == j/2:
				want = LinkHostBridge
			case i/4 == j/4:
				want = LinkCPU
			}
			if got := topo.LinkType(a, b); got != want {
				t.Errorf("LinkType(%s, %s) = %v, want %v", a, b, got, want)
			}
		}
	}

	if got := topo.Between(devices[0], devices[1]); got != LinkHostBridge {
		t.Errorf("Between(npu0, npu1) = %v, want host_bridge", got)
	}
}

func TestTopology_LinkTypeOutsideSet(t *testing.T) {
	r, _ := newTestRegistry(t, twoSocketDevices()[:2]...)
	devices, err := r.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	topo, err := ReadTopology(devices)
	if err != nil {
		t.Fatalf("ReadTopology failed: %v", err)
	}

	tests := []struct {
		a, b string
		want LinkType
	}{
		{"", "", LinkUnknown},
		{"0000:27:00.0", "", LinkUnknown},
		{"0000:27:00.0", "0000:ca:00.0", LinkUnknown},
		{"0000:27:00.0", "0000:27:00.0", LinkSoc},
		{"0000:2a:00.0", "0000:27:00.0", LinkHostBridge},
	}
	for _, tt := range tests {
		if got := topo.LinkType(tt.a, tt.b); got != tt.want {
			t.Errorf("LinkType(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestReadTopology_NoNUMA(t *testing.T) {
	r, _ := newTestRegistry(t,
		FakeDevice{Arch: ArchRNGD, Index: 0, NUMANode: -1, PCIPath: []string{"pci0000:00", "0000:00:01.0"}},
		FakeDevice{Arch: ArchRNGD, Index: 1, NUMANode: -1, PCIPath: []string{"pci0000:80", "0000:80:01.0"}},
	)
	devices, err := r.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}

	topo, err := ReadTopology(devices)
	if err != nil {
		t.Fatalf("ReadTopology failed: %v", err)
	}
	// A host without NUMA is one package.
	if got := topo.Between(devices[0], devices[1]); got != LinkCPU {
		t.Errorf("Between = %v, want cpu", got)
	}
}

func TestReadTopology_DefaultLayout(t *testing.T) {
	r, _ := newTestRegistry(t,
		FakeDevice{Arch: ArchWarboy, Index: 0},
		FakeDevice{Arch: ArchRNGD, Index: 1},
	)
	devices, err := r.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	topo, err := ReadTopology(devices)
	if err != nil {
		t.Fatalf("ReadTopology failed: %v", err)
	}
	if got := topo.Between(devices[0], devices[1]); got != LinkHostBridge {
		t.Errorf("Between = %v, want host_bridge", got)
	}
}

func TestReadTopology_PartialFailure(t *testing.T) {
	r, fake := newTestRegistry(t, twoSocketDevices()[:3]...)
	devices, err := r.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	fake.InjectError(path.Join(testSysfs, "bus", "pci", "devices", "0000:2a:00.0"), fs.ErrPermission)

	topo, err := ReadTopology(devices)
	wantCode(t, err, CodePermissionDenied)
	if topo == nil {
		t.Fatal("Expected a partial topology")
	}

	tests := []struct {
		a, b string
		want LinkType
	}{
		{"0000:2a:00.0", "0000:2a:00.0", LinkSoc},
		{"0000:2a:00.0", "0000:27:00.0", LinkUnknown},
		{"0000:2a:00.0", "0000:51:00.0", LinkUnknown},
		{"0000:27:00.0", "0000:51:00.0", LinkCPU},
	}
	for _, tt := range tests {
		if got := topo.LinkType(tt.a, tt.b); got != tt.want {
			t.Errorf("LinkType(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestReadTopology_NotBelowHostBridge(t *testing.T) {
	r, fake := newTestRegistry(t, FakeDevice{Arch: ArchWarboy, Index: 0})
	d := mustGetDevice(t, r, 0)
	platform := path.Join(testSysfs, "devices", "platform", "npu0")
	fake.Mkdir(platform)
	fake.SetLink(path.Join(testSysfs, "bus", "pci", "devices", d.BusName()), platform)

	_, err := ReadTopology([]*Device{d})
	wantCode(t, err, CodeUnexpectedValue)
}

func TestReadTopologyContext(t *testing.T) {
	r, _ := newTestRegistry(t, FakeDevice{Arch: ArchWarboy, Index: 0})
	d := mustGetDevice(t, r, 0)

	topo, err := ReadTopologyContext(context.Background(), []*Device{d})
	if err != nil {
		t.Fatalf("ReadTopologyContext failed: %v", err)
	}
	if got := topo.Between(d, d); got != LinkSoc {
		t.Errorf("Between(d, d) = %v, want soc", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadTopologyContext(ctx, []*Device{d}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLinkType_String(t *testing.T) {
	tests := []struct {
		l    LinkType
		want string
	}{
		{LinkUnknown, "unknown"},
		{LinkInterconnect, "interconnect"},
		{LinkCPU, "cpu"},
		{LinkHostBridge, "host_bridge"},
		{LinkSoc, "soc"},
		{LinkType(40), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.l.String(); got != tt.want {
			t.Errorf("LinkType(%d).String() = %q, want %q", int(tt.l), got, tt.want)
		}
	}
}

package npu

import (
	"context"
	"errors"
	"path"
	"strings"
)

// LinkType ranks how closely two devices are attached. Higher is closer.
type LinkType int

const (
	LinkUnknown LinkType = 0
	// LinkInterconnect means the devices hang off different CPU packages
	// and traffic crosses the inter-socket interconnect.
	LinkInterconnect LinkType = 10
	// LinkCPU means the devices share a CPU package but not a host bridge.
	LinkCPU LinkType = 20
	// LinkHostBridge means the devices share a PCIe host bridge. They may
	// still sit behind different switches below it.
	LinkHostBridge LinkType = 30
	// LinkSoc means both ends are the same chip.
	LinkSoc LinkType = 70
)

func (l LinkType) String() string {
	switch l {
	case LinkInterconnect:
		return "interconnect"
	case LinkCPU:
		return "cpu"
	case LinkHostBridge:
		return "host_bridge"
	case LinkSoc:
		return "soc"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l LinkType) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// pciPlacement is where a device sits in the PCI hierarchy.
type pciPlacement struct {
	busName    string
	hostBridge string
	// numaNode is -1 on hosts without NUMA.
	numaNode int
}

// placement resolves the device's sysfs PCI link. On Linux
// /sys/bus/pci/devices/<bus> points into /sys/devices/pciDDDD:BB/..., and
// the first component below /sys/devices names the host bridge.
func (d *Device) placement() (pciPlacement, error) {
	link := path.Join(d.sysfs, "bus", "pci", "devices", d.busName)
	resolved, err := d.src.Realpath(link)
	if err != nil {
		return pciPlacement{}, sourceError("resolve pci path", link, err)
	}
	root := path.Join(d.sysfs, "devices")
	if r, err := d.src.Realpath(root); err == nil {
		root = r
	}

	rest, ok := strings.CutPrefix(resolved, root+"/")
	hostBridge, _, _ := strings.Cut(rest, "/")
	if !ok || !strings.HasPrefix(hostBridge, "pci") {
		return pciPlacement{}, newError(CodeUnexpectedValue, "resolve pci path",
			"%s resolves to %s, which is not below a PCI host bridge", link, resolved)
	}

	node, err := d.NUMANode()
	switch {
	case err == nil:
	case CodeOf(err) == CodeUnsupported:
		node = -1
	default:
		return pciPlacement{}, err
	}
	return pciPlacement{busName: d.busName, hostBridge: hostBridge, numaNode: node}, nil
}

func linkBetween(a, b pciPlacement) LinkType {
	switch {
	case a.busName == b.busName:
		return LinkSoc
	case a.hostBridge == b.hostBridge:
		return LinkHostBridge
	case a.numaNode == b.numaNode:
		return LinkCPU
	default:
		return LinkInterconnect
	}
}

// Topology holds the link type of every pair of a set of devices, keyed by
// PCI bus name.
type Topology struct {
	busNames []string
	links    map[[2]string]LinkType
}

func linkKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// ReadTopology computes the link type between every pair of devices.
//
// A device whose placement cannot be read is still listed; its links to
// the other devices are LinkUnknown and the failures are returned joined
// with the partial Topology.
func ReadTopology(devices []*Device) (*Topology, error) {
	t := &Topology{
		busNames: make([]string, 0, len(devices)),
		links:    make(map[[2]string]LinkType),
	}
	placements := make(map[string]pciPlacement, len(devices))
	var failures []error
	for _, d := range devices {
		t.busNames = append(t.busNames, d.BusName())
		p, err := d.placement()
		if err != nil {
			failures = append(failures, err)
			continue
		}
		placements[d.BusName()] = p
	}

	for _, a := range t.busNames {
		for _, b := range t.busNames {
			pa, okA := placements[a]
			pb, okB := placements[b]
			switch {
			case a == b:
				t.links[linkKey(a, b)] = LinkSoc
			case okA && okB:
				t.links[linkKey(a, b)] = linkBetween(pa, pb)
			default:
				t.links[linkKey(a, b)] = LinkUnknown
			}
		}
	}
	return t, errors.Join(failures...)
}

// ReadTopologyContext is ReadTopology with cancellation.
func ReadTopologyContext(ctx context.Context, devices []*Device) (*Topology, error) {
	type snapshot struct {
		t   *Topology
		err error
	}
	s, err := await(ctx, func() (snapshot, error) {
		t, err := ReadTopology(devices)
		return snapshot{t, err}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.t, s.err
}

// BusNames returns the bus names of the devices in the order given to
// ReadTopology.
func (t *Topology) BusNames() []string {
	return append([]string(nil), t.busNames...)
}

// LinkType returns the link between two bus names. The relation is
// symmetric; pairs outside the Topology are LinkUnknown.
func (t *Topology) LinkType(a, b string) LinkType {
	return t.links[linkKey(a, b)]
}

// Between is LinkType for two devices.
func (t *Topology) Between(a, b *Device) LinkType {
	return t.LinkType(a.BusName(), b.BusName())
}

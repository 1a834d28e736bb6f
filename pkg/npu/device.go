package npu

import (
	"fmt"
	"path"
	"sort"

	"github.com/google/uuid"
)

// Device is a snapshot of one NPU. Identity fields are read once at
// construction; every other accessor reads the Source again.
type Device struct {
	index int
	arch  Arch

	name            string
	serial          string
	uuid            string
	firmwareVersion string
	driverVersion   string
	busName         string
	pciDev          string
	socUID          string

	src     Source
	devfs   string
	sysfs   string
	mgmtDir string
}

func newDevice(src Source, arch Arch, index int, devfs, sysfs string) (*Device, error) {
	d := &Device{
		index:   index,
		arch:    arch,
		name:    fmt.Sprintf("npu%d", index),
		src:     src,
		devfs:   devfs,
		sysfs:   sysfs,
		mgmtDir: arch.mgmtDir(sysfs, index),
	}

	deviceType, err := d.readMgmt(fileDeviceType)
	if err != nil {
		return nil, err
	}
	socRev, err := d.readOptionalMgmt(fileSocRev)
	if err != nil {
		return nil, err
	}
	reported, err := identifyArch(deviceType, socRev)
	if err != nil {
		return nil, err
	}
	if reported != arch {
		return nil, newError(CodeIncompatibleDriver, "identify arch",
			"%s reports %s but is exposed by the %s driver", d.name, reported, arch)
	}

	required := []struct {
		file string
		dst  *string
	}{
		{fileBusName, &d.busName},
		{fileDev, &d.pciDev},
		{fileDeviceSN, &d.serial},
		{fileDeviceUUID, &d.uuid},
		{fileFWVersion, &d.firmwareVersion},
		{fileVersion, &d.driverVersion},
	}
	for _, r := range required {
		if *r.dst, err = d.readMgmt(r.file); err != nil {
			return nil, err
		}
	}
	if d.socUID, err = d.readOptionalMgmt(fileSocUID); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) readMgmt(file string) (string, error) {
	p := path.Join(d.mgmtDir, file)
	s, err := readTrimmed(d.src, p)
	if err != nil {
		return "", sourceError("read "+file, p, err)
	}
	return s, nil
}

// readOptionalMgmt treats a missing attribute as empty.
func (d *Device) readOptionalMgmt(file string) (string, error) {
	p := path.Join(d.mgmtDir, file)
	s, err := readTrimmed(d.src, p)
	if err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", sourceError("read "+file, p, err)
	}
	return s, nil
}

// Index returns the device index, which is also its identity.
func (d *Device) Index() int { return d.index }

func (d *Device) Arch() Arch { return d.arch }

// Name returns the device name, e.g. "npu0".
func (d *Device) Name() string { return d.name }

func (d *Device) Serial() string { return d.serial }

func (d *Device) UUID() string { return d.uuid }

func (d *Device) FirmwareVersion() string { return d.firmwareVersion }

func (d *Device) DriverVersion() string { return d.driverVersion }

// BusName returns the PCI bus address, e.g. "0000:6d:00.0".
func (d *Device) BusName() string { return d.busName }

// PCIDev returns the device's major:minor numbers.
func (d *Device) PCIDev() string { return d.pciDev }

func (d *Device) SocUID() string { return d.socUID }

// Equal reports whether d and o are the same device.
func (d *Device) Equal(o *Device) bool {
	return d != nil && o != nil && d.index == o.index
}

// ParsedUUID validates and parses the device UUID.
func (d *Device) ParsedUUID() (uuid.UUID, error) {
	u, err := uuid.Parse(d.uuid)
	if err != nil {
		return uuid.Nil, &Error{Code: CodeParse, Op: "parse uuid", Err: err}
	}
	return u, nil
}

// CoreNum returns the number of cores the device's arch provides.
func (d *Device) CoreNum() int {
	return d.arch.CoreNum()
}

// Alive reports whether the firmware considers the device healthy.
func (d *Device) Alive() (bool, error) {
	s, err := d.readMgmt(d.arch.aliveFile())
	if err != nil {
		return false, err
	}
	return parseAlive(d.arch, s)
}

// Heartbeat returns the firmware heartbeat counter.
func (d *Device) Heartbeat() (uint32, error) {
	s, err := d.readMgmt(fileHeartbeat)
	if err != nil {
		return 0, err
	}
	return parseHeartbeat(s)
}

// ErrorStates returns the hardware error counters in reporting order.
func (d *Device) ErrorStates() ([]Pair, error) {
	s, err := d.readMgmt(fileATRError)
	if err != nil {
		return nil, err
	}
	return parseErrorStates(s)
}

// ClockFrequencies returns the current clock of each clock domain.
func (d *Device) ClockFrequencies() ([]ClockFrequency, error) {
	s, err := d.readMgmt(d.arch.clockFile())
	if err != nil {
		return nil, err
	}
	return parseClockFrequencies(s), nil
}

// NUMANode returns the NUMA node the device is attached to. Hosts without
// NUMA report CodeUnsupported.
func (d *Device) NUMANode() (int, error) {
	p := path.Join(d.sysfs, "bus", "pci", "devices", d.busName, "numa_node")
	s, err := d.src.ReadString(p)
	if err != nil {
		if isNotExist(err) {
			return 0, &Error{Code: CodeUnsupported, Op: "read numa node", Path: p, Err: err}
		}
		return 0, sourceError("read numa node", p, err)
	}
	return parseNUMANode(s)
}

// DeviceFiles enumerates the device's files, ordered by core range start,
// then by width, then by mode.
func (d *Device) DeviceFiles() ([]DeviceFile, error) {
	dir := d.arch.devfileDir(d.devfs)
	names, err := d.src.ListDir(dir)
	if err != nil {
		return nil, sourceError("list device files", dir, err)
	}
	var files []DeviceFile
	for _, name := range names {
		p, err := ParseDeviceFileName(name)
		if err != nil || p.Index != d.index {
			continue
		}
		r, mode, err := p.Validate(d.CoreNum())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		files = append(files, DeviceFile{
			DeviceIndex: d.index,
			CoreRange:   r,
			Path:        path.Join(dir, name),
			Mode:        mode,
		})
	}
	sortDeviceFiles(files, d.CoreNum())
	return files, nil
}

// Cores returns the core indices covered by at least one device file.
func (d *Device) Cores() ([]int, error) {
	files, err := d.DeviceFiles()
	if err != nil {
		return nil, err
	}
	return coveredCores(files, d.CoreNum()), nil
}

func coveredCores(files []DeviceFile, coreNum int) []int {
	seen := make(map[int]bool)
	var cores []int
	for _, f := range files {
		s, e := f.CoreRange.Bounds(coreNum)
		for c := s; c <= e; c++ {
			if !seen[c] {
				seen[c] = true
				cores = append(cores, c)
			}
		}
	}
	sort.Ints(cores)
	return cores
}

func sortDeviceFiles(files []DeviceFile, coreNum int) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.DeviceIndex != b.DeviceIndex {
			return a.DeviceIndex < b.DeviceIndex
		}
		as, _ := a.CoreRange.Bounds(coreNum)
		bs, _ := b.CoreRange.Bounds(coreNum)
		if as != bs {
			return as < bs
		}
		if al, bl := a.CoreRange.Len(coreNum), b.CoreRange.Len(coreNum); al != bl {
			return al < bl
		}
		return a.Mode < b.Mode
	})
}

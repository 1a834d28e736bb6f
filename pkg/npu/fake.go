package npu

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Source for tests and development. Files, busy
// device files and per-path errors can be changed at any time.
type Fake struct {
	mu     sync.RWMutex
	files  map[string][]byte
	dirs   map[string]bool
	occ    map[string]Occupancy
	errors map[string]error
	links  map[string]string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		files:  make(map[string][]byte),
		dirs:   make(map[string]bool),
		occ:    make(map[string]Occupancy),
		errors: make(map[string]error),
		links:  make(map[string]string),
	}
}

// SetFile creates or replaces a file and its parent directories.
func (f *Fake) SetFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.files[p] = []byte(content)
	f.mkdirAll(path.Dir(p))
}

// RemoveFile deletes a file. Its directory stays.
func (f *Fake) RemoveFile(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path.Clean(p))
}

// Mkdir creates an empty directory and its parents.
func (f *Fake) Mkdir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(path.Clean(p))
}

func (f *Fake) mkdirAll(p string) {
	for p != "/" && p != "." && !f.dirs[p] {
		f.dirs[p] = true
		p = path.Dir(p)
	}
}

// SetLink makes p a symbolic link to the absolute path target. Links are
// only followed by Realpath; reads address files by their stored path.
func (f *Fake) SetLink(p, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.links[p] = path.Clean(target)
	f.mkdirAll(path.Dir(p))
}

// SetOccupancy sets what OpenTest reports for a device file. A busy file
// also makes OpenTest report busy for every other file in the same
// directory that shares a core with it, as the driver does.
func (f *Fake) SetOccupancy(p string, occ Occupancy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occ[path.Clean(p)] = occ
}

// InjectError makes every operation on p fail with err. A nil err clears
// the injection.
func (f *Fake) InjectError(p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, path.Clean(p))
		return
	}
	f.errors[path.Clean(p)] = err
}

func notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

func (f *Fake) ReadString(p string) (string, error) {
	b, err := f.ReadBytes(p)
	return string(b), err
}

func (f *Fake) ReadBytes(p string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p = path.Clean(p)
	if err := f.errors[p]; err != nil {
		return nil, err
	}
	b, ok := f.files[p]
	if !ok {
		return nil, notExist("read", p)
	}
	return append([]byte(nil), b...), nil
}

func (f *Fake) ListDir(p string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p = path.Clean(p)
	if err := f.errors[p]; err != nil {
		return nil, err
	}
	if !f.dirs[p] {
		return nil, notExist("readdir", p)
	}

	seen := make(map[string]bool)
	prefix := strings.TrimSuffix(p, "/") + "/"
	collect := func(child string) {
		rest, ok := strings.CutPrefix(child, prefix)
		if !ok || rest == "" {
			return
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = true
	}
	for fp := range f.files {
		collect(fp)
	}
	for dp := range f.dirs {
		collect(dp)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) Realpath(p string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p = path.Clean(p)
	if err := f.errors[p]; err != nil {
		return "", err
	}
	for hops := 0; ; hops++ {
		if hops > 40 {
			return "", &fs.PathError{Op: "realpath", Path: p, Err: errors.New("too many links")}
		}
		resolved, ok := f.resolveOnce(p)
		if !ok {
			break
		}
		p = resolved
	}
	if !f.dirs[p] {
		if _, ok := f.files[p]; !ok {
			return "", notExist("realpath", p)
		}
	}
	return p, nil
}

// resolveOnce replaces the longest linked prefix of p with its target.
func (f *Fake) resolveOnce(p string) (string, bool) {
	for prefix := p; prefix != "/" && prefix != "."; prefix = path.Dir(prefix) {
		if target, ok := f.links[prefix]; ok {
			return path.Join(target, strings.TrimPrefix(p, prefix)), true
		}
	}
	return p, false
}

func (f *Fake) OpenTest(p string) (Occupancy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p = path.Clean(p)
	if err := f.errors[p]; err != nil {
		return OccupancyFree, err
	}
	if _, ok := f.files[p]; !ok {
		return OccupancyFree, notExist("open", p)
	}
	if occ := f.occ[p]; occ != OccupancyFree {
		return occ, nil
	}
	name, err := ParseDeviceFileName(path.Base(p))
	if err != nil {
		return OccupancyFree, nil
	}
	for other, occ := range f.occ {
		if occ != OccupancyBusy || path.Dir(other) != path.Dir(p) {
			continue
		}
		if _, ok := f.files[other]; !ok {
			continue
		}
		held, err := ParseDeviceFileName(path.Base(other))
		if err == nil && sharesCore(name, held) {
			return OccupancyBusy, nil
		}
	}
	return OccupancyFree, nil
}

func sharesCore(a, b ParsedName) bool {
	if a.Index != b.Index {
		return false
	}
	if !a.HasCores || !b.HasCores {
		return true
	}
	return a.Start <= b.End && b.Start <= a.End
}

// FakeDevice describes a device for Fake.AddDevice.
type FakeDevice struct {
	Arch  Arch
	Index int
	// Files are device file names such as "npu0pe0". Empty means one
	// single-core file per core, one fused file per fusible pair and the
	// whole-device file.
	Files []string
	// Hwmon maps sensor attribute names such as "temp1_input" to values.
	Hwmon map[string]string
	// BusName overrides the PCI address. Empty means 0000:51:00.0 for
	// index 0, 0000:52:00.0 for index 1 and so on.
	BusName string
	// PCIPath lists the host bridge and the bridges above the device, e.g.
	// {"pci0000:00", "0000:00:01.0"}. Empty means a root port of its own
	// under pci0000:00.
	PCIPath []string
	// NUMANode is written to numa_node; -1 means a host without NUMA.
	NUMANode int
}

// AddDevice lays out a complete device under devfs and sysfs.
func (f *Fake) AddDevice(devfs, sysfs string, d FakeDevice) {
	files := d.Files
	if files == nil {
		files = defaultFakeFiles(d.Arch, d.Index)
	}
	devDir := d.Arch.devfileDir(devfs)
	for _, name := range files {
		f.SetFile(path.Join(devDir, name), "")
	}

	busName := d.BusName
	if busName == "" {
		busName = fmt.Sprintf("0000:%02x:00.0", 0x51+d.Index)
	}
	deviceType, socRev := "Warboy", "B0"
	alive := "1"
	if d.Arch == ArchRNGD {
		deviceType, socRev = "RNGD", "A0"
	}

	mgmt := d.Arch.mgmtDir(sysfs, d.Index)
	attrs := map[string]string{
		filePlatformType:   "FuriosaAI\n",
		fileDeviceType:     deviceType + "\n",
		fileSocRev:         socRev + "\n",
		fileSocUID:         fmt.Sprintf("%016X\n", 0x1000+d.Index),
		fileBusName:        busName + "\n",
		fileDev:            fmt.Sprintf("%d:%d\n", 511, d.Index),
		fileDeviceSN:       fmt.Sprintf("WBYB0%011d\n", d.Index),
		fileDeviceUUID:     fmt.Sprintf("00000000-0000-0000-0000-%012d\n", d.Index),
		fileFWVersion:      "1.7.0, 0000000\n",
		fileVersion:        "1.9.8, 0000000\n",
		fileHeartbeat:      "42\n",
		fileATRError:       "AXI Post Error: 0\nAXI Fetch Error: 0\nAXI Discard Error: 0\n",
		d.Arch.aliveFile(): alive + "\n",
		d.Arch.clockFile(): "ne tensor (MHz): 2000\nne cpu (MHz): 1000\n",
	}
	for name, value := range attrs {
		f.SetFile(path.Join(mgmt, name), value)
	}

	pci := path.Join(sysfs, "bus", "pci", "devices", busName)
	f.SetFile(path.Join(pci, "numa_node"), fmt.Sprintf("%d\n", d.NUMANode))

	parents := d.PCIPath
	if len(parents) == 0 {
		parents = []string{"pci0000:00", fmt.Sprintf("0000:00:%02x.0", 1+d.Index)}
	}
	target := path.Join(append(append([]string{sysfs, "devices"}, parents...), busName)...)
	f.Mkdir(target)
	f.SetLink(pci, target)
	for name, value := range d.Hwmon {
		f.SetFile(path.Join(pci, "hwmon", "hwmon0", name), value)
	}
	if d.Hwmon == nil {
		f.Mkdir(path.Join(pci, "hwmon", "hwmon0"))
	}
}

func defaultFakeFiles(arch Arch, index int) []string {
	files := []string{fmt.Sprintf("npu%d", index)}
	n := arch.CoreNum()
	for c := 0; c < n; c++ {
		files = append(files, fmt.Sprintf("npu%dpe%d", index, c))
	}
	for c := 0; c+1 < n; c += 2 {
		files = append(files, fmt.Sprintf("npu%dpe%d-%d", index, c, c+1))
	}
	return files
}

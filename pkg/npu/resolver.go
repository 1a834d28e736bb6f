package npu

import (
	"context"
	"sort"
)

type candidate struct {
	file    DeviceFile
	coreNum int
}

func sortCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.file.DeviceIndex != b.file.DeviceIndex {
			return a.file.DeviceIndex < b.file.DeviceIndex
		}
		as, _ := a.file.CoreRange.Bounds(a.coreNum)
		bs, _ := b.file.CoreRange.Bounds(b.coreNum)
		if as != bs {
			return as < bs
		}
		if al, bl := a.file.CoreRange.Len(a.coreNum), b.file.CoreRange.Len(b.coreNum); al != bl {
			return al < bl
		}
		return a.file.Mode < b.file.Mode
	})
}

// freeCandidates lists the files on devices that are fully free right now,
// in (device index, first core) order. Each device's files are open-tested once.
// An open-test failure on any device fails the whole resolution.
func freeCandidates(devices []*Device) ([]candidate, error) {
	var out []candidate
	for _, d := range devices {
		statuses, err := d.AllCoreStatus()
		if err != nil {
			return nil, err
		}
		files, err := d.DeviceFiles()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if fullyFree(f, statuses, d.CoreNum()) {
				out = append(out, candidate{file: f, coreNum: d.CoreNum()})
			}
		}
	}
	sortCandidates(out)
	return out, nil
}

func fullyFree(f DeviceFile, statuses map[int]CoreStatus, coreNum int) bool {
	s, e := f.CoreRange.Bounds(coreNum)
	for c := s; c <= e; c++ {
		if statuses[c].State != CoreAvailable {
			return false
		}
	}
	return true
}

// FindDeviceFiles returns cfg.Count device files that have the requested
// shape and whose cores are all available. Candidates are taken in
// ascending (device index, first core) order, which fills lower-indexed
// devices before moving on. The result is all or nothing: if fewer than
// cfg.Count files qualify it fails with CodeDeviceNotFound.
func FindDeviceFiles(r *Registry, cfg DeviceConfig) ([]DeviceFile, error) {
	return FindDeviceFilesFor(r, cfg)
}

// FindDeviceFilesContext is FindDeviceFiles with cancellation.
func FindDeviceFilesContext(ctx context.Context, r *Registry, cfg DeviceConfig) ([]DeviceFile, error) {
	return await(ctx, func() ([]DeviceFile, error) { return FindDeviceFiles(r, cfg) })
}

// FindDeviceFilesFor resolves several requests together. Requests are
// served in order and a file is never handed out if it overlaps one
// already chosen. Either every request is satisfied or none is.
func FindDeviceFilesFor(r *Registry, cfgs ...DeviceConfig) ([]DeviceFile, error) {
	for _, cfg := range cfgs {
		if cfg.Count < 1 {
			return nil, newError(CodeInvalidInput, "find device files", "count must be positive, got %d", cfg.Count)
		}
	}

	devices, err := r.ListDevices()
	if devices == nil && err != nil {
		return nil, err
	}
	// Devices that failed to build are left out; they cannot be claimed.
	archOf := make(map[int]Arch, len(devices))
	var wanted []*Device
	for _, d := range devices {
		for _, cfg := range cfgs {
			if cfg.Arch == ArchAny || cfg.Arch == d.Arch() {
				wanted = append(wanted, d)
				archOf[d.Index()] = d.Arch()
				break
			}
		}
	}

	free, err := freeCandidates(wanted)
	if err != nil {
		return nil, err
	}

	var chosen []candidate
	for _, cfg := range cfgs {
		found := 0
		for _, c := range free {
			if found == cfg.Count {
				break
			}
			if !cfg.matches(archOf[c.file.DeviceIndex], c.file) || overlapsAny(c, chosen) {
				continue
			}
			chosen = append(chosen, c)
			found++
		}
		if found < cfg.Count {
			return nil, newError(CodeDeviceNotFound, "find device files",
				"%d of %d free device files match %s", found, cfg.Count, cfg)
		}
	}

	out := make([]DeviceFile, len(chosen))
	for i, c := range chosen {
		out[i] = c.file
	}
	return out, nil
}

// FindDeviceFilesForContext is FindDeviceFilesFor with cancellation.
func FindDeviceFilesForContext(ctx context.Context, r *Registry, cfgs ...DeviceConfig) ([]DeviceFile, error) {
	return await(ctx, func() ([]DeviceFile, error) { return FindDeviceFilesFor(r, cfgs...) })
}

func overlapsAny(c candidate, chosen []candidate) bool {
	for _, o := range chosen {
		if o.file.DeviceIndex == c.file.DeviceIndex && o.file.CoreRange.Overlaps(c.file.CoreRange, c.coreNum) {
			return true
		}
	}
	return false
}

// GetDeviceFile resolves a device file by name regardless of whether it is
// in use.
func GetDeviceFile(r *Registry, name string) (DeviceFile, error) {
	p, err := ParseDeviceFileName(name)
	if err != nil {
		return DeviceFile{}, err
	}
	d, err := r.GetDevice(p.Index)
	if err != nil {
		return DeviceFile{}, err
	}
	want, _, err := p.Validate(d.CoreNum())
	if err != nil {
		return DeviceFile{}, err
	}
	files, err := d.DeviceFiles()
	if err != nil {
		return DeviceFile{}, err
	}
	for _, f := range files {
		if f.CoreRange == want {
			return f, nil
		}
	}
	return DeviceFile{}, newError(CodeDeviceNotFound, "get device file", "%s has no file %s", d.Name(), name)
}

// GetDeviceFileContext is GetDeviceFile with cancellation.
func GetDeviceFileContext(ctx context.Context, r *Registry, name string) (DeviceFile, error) {
	return await(ctx, func() (DeviceFile, error) { return GetDeviceFile(r, name) })
}

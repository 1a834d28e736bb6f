package npu

import (
	"context"
	"errors"
	"fmt"
)

// CoreState is the kind of a CoreStatus.
type CoreState int

const (
	CoreAvailable CoreState = iota
	CoreOccupied
	CoreUnavailable
)

func (s CoreState) String() string {
	switch s {
	case CoreAvailable:
		return "available"
	case CoreOccupied:
		return "occupied"
	case CoreUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CoreStatus is the derived state of one core.
type CoreStatus struct {
	State CoreState
	// Holder names the busy device file when State is CoreOccupied.
	Holder string
}

var (
	StatusAvailable   = CoreStatus{State: CoreAvailable}
	StatusUnavailable = CoreStatus{State: CoreUnavailable}
)

// Occupied returns the status of a core held through the named file.
func Occupied(holder string) CoreStatus {
	return CoreStatus{State: CoreOccupied, Holder: holder}
}

func (s CoreStatus) String() string {
	if s.State == CoreOccupied {
		return "occupied by " + s.Holder
	}
	return s.State.String()
}

// MarshalText implements encoding.TextMarshaler.
func (s CoreStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// openResult is the outcome of one OpenTest.
type openResult struct {
	occ Occupancy
	err error
}

// deriveStatus combines the open tests of the files covering core.
//
// The driver answers EBUSY on every file that shares a core with a held
// one, so a busy fused or whole-device file does not say which cores are
// in use. Occupancy is therefore taken from the single-core files; wider
// files only count when no single-core file covers the core. An open-test
// error or a Failed open test on any covering file makes the core
// unavailable.
func deriveStatus(core, coreNum int, files []DeviceFile, results map[string]openResult) CoreStatus {
	var (
		covered, hasSingle bool
		single, wide       string
	)
	for _, f := range files {
		if !f.CoreRange.Contains(core, coreNum) {
			continue
		}
		covered = true
		p := results[f.Path]
		if p.err != nil || p.occ == OccupancyFailed {
			return StatusUnavailable
		}
		if f.Mode == ModeSingle {
			hasSingle = true
		}
		if p.occ != OccupancyBusy {
			continue
		}
		if f.Mode == ModeSingle && single == "" {
			single = f.Name()
		} else if f.Mode != ModeSingle && wide == "" {
			wide = f.Name()
		}
	}
	switch {
	case !covered:
		return StatusUnavailable
	case single != "":
		return Occupied(single)
	case !hasSingle && wide != "":
		return Occupied(wide)
	default:
		return StatusAvailable
	}
}

// CoreStatus open-tests every device file covering core and combines the
// results. The answer is a snapshot; another process may open or close a
// file right after.
func (d *Device) CoreStatus(core int) (CoreStatus, error) {
	if core < 0 || core >= d.CoreNum() {
		return CoreStatus{}, newError(CodeInvalidInput, "core status",
			"core %d out of range for %s with %d cores", core, d.Name(), d.CoreNum())
	}
	alive, err := d.Alive()
	if err != nil {
		return CoreStatus{}, err
	}
	if !alive {
		return StatusUnavailable, nil
	}
	files, err := d.DeviceFiles()
	if err != nil {
		return CoreStatus{}, err
	}

	results := make(map[string]openResult)
	for _, f := range files {
		if !f.CoreRange.Contains(core, d.CoreNum()) {
			continue
		}
		occ, err := d.src.OpenTest(f.Path)
		if err != nil {
			return CoreStatus{}, sourceError("open test", f.Path, err)
		}
		results[f.Path] = openResult{occ: occ}
	}
	return deriveStatus(core, d.CoreNum(), files, results), nil
}

// CoreStatusContext is CoreStatus with cancellation.
func (d *Device) CoreStatusContext(ctx context.Context, core int) (CoreStatus, error) {
	return await(ctx, func() (CoreStatus, error) { return d.CoreStatus(core) })
}

// AllCoreStatus returns the status of every core of d. Each device file is
// open-tested once and its result applied to every core it covers.
//
// Open-test failures do not abort the pass. Every core covered by a file that
// failed its open test is reported unavailable, and the failures are returned
// joined alongside the map.
func (d *Device) AllCoreStatus() (map[int]CoreStatus, error) {
	coreNum := d.CoreNum()
	alive, err := d.Alive()
	if err != nil {
		return nil, err
	}
	if !alive {
		out := make(map[int]CoreStatus, coreNum)
		for c := 0; c < coreNum; c++ {
			out[c] = StatusUnavailable
		}
		return out, nil
	}
	files, err := d.DeviceFiles()
	if err != nil {
		return nil, err
	}

	results := make(map[string]openResult, len(files))
	var failures []error
	for _, f := range files {
		occ, err := d.src.OpenTest(f.Path)
		if err != nil {
			err = sourceError("open test", f.Path, err)
			failures = append(failures, err)
		}
		results[f.Path] = openResult{occ: occ, err: err}
	}

	statuses := make(map[int]CoreStatus, coreNum)
	for c := 0; c < coreNum; c++ {
		statuses[c] = deriveStatus(c, coreNum, files, results)
	}
	return statuses, errors.Join(failures...)
}

// AllCoreStatusContext is AllCoreStatus with cancellation.
func (d *Device) AllCoreStatusContext(ctx context.Context) (map[int]CoreStatus, error) {
	type snapshot struct {
		statuses map[int]CoreStatus
		err      error
	}
	s, err := await(ctx, func() (snapshot, error) {
		st, err := d.AllCoreStatus()
		return snapshot{st, err}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.statuses, s.err
}

// OccupantOf returns the holder of core. It fails with CodeUnavailable
// when the core is not occupied.
func (d *Device) OccupantOf(core int) (string, error) {
	st, err := d.CoreStatus(core)
	if err != nil {
		return "", err
	}
	if st.State != CoreOccupied {
		return "", newError(CodeUnavailable, "occupant of",
			"core %d of %s is %s", core, d.Name(), st)
	}
	return st.Holder, nil
}

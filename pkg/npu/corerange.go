package npu

import "strconv"

// CoreRange is the set of cores a device file claims: either every core of
// the device or a contiguous, non-empty interval.
type CoreRange struct {
	all   bool
	Start int
	End   int
}

// AllCores spans every core of the owning device.
var AllCores = CoreRange{all: true}

// NewCoreRange returns the interval [start, end] after checking it against
// the owning device's core count.
func NewCoreRange(start, end, coreNum int) (CoreRange, error) {
	if start < 0 || start > end {
		return CoreRange{}, newError(CodeInvalidInput, "core range", "start %d > end %d", start, end)
	}
	if end >= coreNum {
		return CoreRange{}, newError(CodeInvalidInput, "core range", "core %d out of range for %d cores", end, coreNum)
	}
	return CoreRange{Start: start, End: end}, nil
}

// SingleCore returns the range holding exactly one core. It does not bound
// check; use NewCoreRange when the core count is known.
func SingleCore(core int) CoreRange {
	return CoreRange{Start: core, End: core}
}

// IsAll reports whether r spans the whole device.
func (r CoreRange) IsAll() bool {
	return r.all
}

// Bounds resolves r to a closed interval for a device with coreNum cores.
func (r CoreRange) Bounds(coreNum int) (start, end int) {
	if r.all {
		return 0, coreNum - 1
	}
	return r.Start, r.End
}

// Len returns the number of cores in r.
func (r CoreRange) Len(coreNum int) int {
	s, e := r.Bounds(coreNum)
	return e - s + 1
}

// Contains reports whether core lies in r.
func (r CoreRange) Contains(core, coreNum int) bool {
	s, e := r.Bounds(coreNum)
	return core >= s && core <= e
}

// Overlaps reports whether r and o share at least one core.
func (r CoreRange) Overlaps(o CoreRange, coreNum int) bool {
	s1, e1 := r.Bounds(coreNum)
	s2, e2 := o.Bounds(coreNum)
	return s1 <= e2 && s2 <= e1
}

func (r CoreRange) String() string {
	switch {
	case r.all:
		return "all"
	case r.Start == r.End:
		return strconv.Itoa(r.Start)
	default:
		return strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r CoreRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

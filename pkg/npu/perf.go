package npu

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"
)

// PerformanceCounter is one reading of a device file's hardware counters.
type PerformanceCounter struct {
	// Timestamp is when the reading was taken.
	Timestamp time.Time
	// DeviceFile is the name of the file the counters belong to.
	DeviceFile string
	// CycleCount is the 64-bit cycle counter.
	CycleCount uint64
	// TaskExecutionCycle and TensorExecutionCycle are 32-bit registers
	// that wrap.
	TaskExecutionCycle   uint32
	TensorExecutionCycle uint32
}

// Utilization is derived from the difference of two counter readings.
type Utilization struct {
	NPUUtilization   float64 `json:"npu_utilization"`
	ComputationRatio float64 `json:"computation_ratio"`
	IORatio          float64 `json:"io_ratio"`
}

const (
	regTaskExecutionTime   = "TaskExecutionTime"
	regTensorExecutionTime = "TensorExecutionTime"
	regCycleCount          = "CycleCount"
	regCycleCountHigh      = "CycleCountHigh"
)

// CounterReader reads performance counters. Timestamps come from now.
type CounterReader struct {
	registry *Registry
	now      func() time.Time
}

// NewCounterReader returns a reader for the registry's sysfs tree. A nil
// now uses time.Now.
func NewCounterReader(r *Registry, now func() time.Time) *CounterReader {
	if now == nil {
		now = time.Now
	}
	return &CounterReader{registry: r, now: now}
}

// ReadCounters reads the counters of f in a single attribute read.
func (c *CounterReader) ReadCounters(d *Device, f DeviceFile) (PerformanceCounter, error) {
	if f.DeviceIndex != d.Index() {
		return PerformanceCounter{}, newError(CodeInvalidInput, "read counters",
			"%s does not belong to %s", f.Name(), d.Name())
	}
	if !d.Arch().hasPerfRegs() {
		return PerformanceCounter{}, newError(CodeUnsupported, "read counters",
			"%s does not expose performance counters", d.Arch())
	}

	p := path.Join(c.registry.sysfs, "class", "npu_mgmt", f.Name(), "perf_regs")
	ts := c.now()
	text, err := c.registry.src.ReadString(p)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return PerformanceCounter{}, &Error{Code: CodePerformanceCounter, Op: "read counters: device not in use", Path: p, Err: err}
		case isNotExist(err):
			return PerformanceCounter{}, &Error{Code: CodePerformanceCounter, Op: "read counters: no counter file", Path: p, Err: err}
		}
		return PerformanceCounter{}, sourceError("read counters", p, err)
	}

	pc, err := parsePerfRegs(text)
	if err != nil {
		return PerformanceCounter{}, err
	}
	pc.Timestamp = ts
	pc.DeviceFile = f.Name()
	return pc, nil
}

// ReadCountersContext is ReadCounters with cancellation.
func (c *CounterReader) ReadCountersContext(ctx context.Context, d *Device, f DeviceFile) (PerformanceCounter, error) {
	return await(ctx, func() (PerformanceCounter, error) { return c.ReadCounters(d, f) })
}

// parsePerfRegs parses "Name: 0xHEX" lines. The four registers the
// utilization math needs must be present; the rest are ignored.
func parsePerfRegs(text string) (PerformanceCounter, error) {
	var pc PerformanceCounter
	var low, high uint64
	found := 0

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ": ")
		if !ok {
			continue
		}
		switch key {
		case regTaskExecutionTime, regTensorExecutionTime, regCycleCount, regCycleCountHigh:
		default:
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(value), "0x"), 16, 32)
		if err != nil {
			return PerformanceCounter{}, &Error{Code: CodePerformanceCounter, Op: "parse perf_regs " + key, Err: err}
		}
		found++
		switch key {
		case regTaskExecutionTime:
			pc.TaskExecutionCycle = uint32(v)
		case regTensorExecutionTime:
			pc.TensorExecutionCycle = uint32(v)
		case regCycleCount:
			low = v
		case regCycleCountHigh:
			high = v
		}
	}
	if found < 4 {
		return PerformanceCounter{}, newError(CodePerformanceCounter, "parse perf_regs",
			"expected 4 counter registers, found %d", found)
	}
	pc.CycleCount = high<<32 | low
	return pc, nil
}

// CalculateIncreased returns later minus earlier.
//
// Both readings must come from the same device file and be in order. The
// 64-bit cycle counter does not wrap in practice, so a decrease means the
// device was reset and is an error. The task and tensor registers are 32
// bits wide and do wrap; their differences are taken modulo 2^32.
func CalculateIncreased(later, earlier PerformanceCounter) (PerformanceCounter, error) {
	if later.DeviceFile != earlier.DeviceFile {
		return PerformanceCounter{}, newError(CodePerformanceCounter, "calculate increased",
			"readings of %q and %q cannot be compared", later.DeviceFile, earlier.DeviceFile)
	}
	if later.Timestamp.Before(earlier.Timestamp) {
		return PerformanceCounter{}, newError(CodePerformanceCounter, "calculate increased",
			"later reading is older than earlier reading")
	}
	if later.CycleCount < earlier.CycleCount {
		return PerformanceCounter{}, newError(CodePerformanceCounter, "calculate increased",
			"cycle count went backwards from %d to %d", earlier.CycleCount, later.CycleCount)
	}
	return PerformanceCounter{
		Timestamp:            later.Timestamp,
		DeviceFile:           later.DeviceFile,
		CycleCount:           later.CycleCount - earlier.CycleCount,
		TaskExecutionCycle:   later.TaskExecutionCycle - earlier.TaskExecutionCycle,
		TensorExecutionCycle: later.TensorExecutionCycle - earlier.TensorExecutionCycle,
	}, nil
}

// CalculateUtilization derives utilization ratios from a counter delta.
// A delta with no elapsed cycles or no task cycles is 0% utilized.
func CalculateUtilization(delta PerformanceCounter) Utilization {
	if delta.CycleCount == 0 || delta.TaskExecutionCycle == 0 {
		return Utilization{}
	}
	task := float64(delta.TaskExecutionCycle)
	npu := clamp01(task / float64(delta.CycleCount))
	computation := clamp01(float64(delta.TensorExecutionCycle) / task)
	return Utilization{
		NPUUtilization:   npu,
		ComputationRatio: computation,
		IORatio:          1 - computation,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

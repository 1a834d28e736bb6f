package exporter

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NavarchProject/npudev/pkg/npu"
)

// Sample is the utilization of one core between two counter readings.
type Sample struct {
	Device      int
	Core        int
	DeviceFile  string
	Timestamp   time.Time
	Elapsed     time.Duration
	Utilization npu.Utilization
}

// Sampler turns consecutive performance counter readings into utilization.
// It holds the previous reading of every single-core device file; nothing
// else in the process keeps counter state.
type Sampler struct {
	reader *npu.CounterReader
	logger *slog.Logger

	mu     sync.Mutex
	prev   map[string]npu.PerformanceCounter
	latest map[string]Sample
}

// NewSampler returns a Sampler reading through reader.
func NewSampler(reader *npu.CounterReader, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		reader: reader,
		logger: logger,
		prev:   make(map[string]npu.PerformanceCounter),
		latest: make(map[string]Sample),
	}
}

// Sample reads the counters of every single-core file of devices. A file
// needs two readings before it produces a Sample. Files that are not open
// or belong to an arch without counters are skipped; other failures are
// returned joined.
func (s *Sampler) Sample(devices []*npu.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var failures []error
	for _, d := range devices {
		files, err := d.DeviceFiles()
		if err != nil {
			failures = append(failures, err)
			continue
		}
		for _, f := range files {
			if f.Mode != npu.ModeSingle {
				continue
			}
			if err := s.sampleFile(d, f); err != nil {
				failures = append(failures, err)
				continue
			}
			seen[f.Name()] = true
		}
	}

	for name := range s.prev {
		if !seen[name] {
			delete(s.prev, name)
			delete(s.latest, name)
		}
	}
	return errors.Join(failures...)
}

func (s *Sampler) sampleFile(d *npu.Device, f npu.DeviceFile) error {
	name := f.Name()
	pc, err := s.reader.ReadCounters(d, f)
	switch npu.CodeOf(err) {
	case npu.CodeOK:
	case npu.CodeUnsupported:
		return nil
	case npu.CodePerformanceCounter:
		// Counters only exist while the file is open.
		s.logger.Debug("no counters", slog.String("device_file", name), slog.String("error", err.Error()))
		delete(s.prev, name)
		delete(s.latest, name)
		return nil
	default:
		return err
	}

	prev, ok := s.prev[name]
	s.prev[name] = pc
	if !ok {
		return nil
	}
	delta, err := npu.CalculateIncreased(pc, prev)
	if err != nil {
		s.logger.Info("counter reset", slog.String("device_file", name), slog.String("error", err.Error()))
		delete(s.latest, name)
		return nil
	}
	s.latest[name] = Sample{
		Device:      d.Index(),
		Core:        f.CoreRange.Start,
		DeviceFile:  name,
		Timestamp:   pc.Timestamp,
		Elapsed:     pc.Timestamp.Sub(prev.Timestamp),
		Utilization: npu.CalculateUtilization(delta),
	}
	return nil
}

// Samples returns the latest sample of every file, ordered by device and
// core.
func (s *Sampler) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Sample, 0, len(s.latest))
	for _, smp := range s.latest {
		out = append(out, smp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Core < out[j].Core
	})
	return out
}

package npu

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// SensorType is a family of hwmon sensors.
type SensorType string

const (
	SensorCurrent     SensorType = "curr"
	SensorVoltage     SensorType = "in"
	SensorPower       SensorType = "power"
	SensorTemperature SensorType = "temp"
)

// valueItem is the attribute suffix holding the reading.
func (t SensorType) valueItem() string {
	if t == SensorPower {
		return "average"
	}
	return "input"
}

// SensorValue is one sensor reading in the hwmon unit of its family:
// milliamperes, millivolts, microwatts or millidegrees Celsius.
type SensorValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// SensorFetcher reads the hwmon sensors of one device.
type SensorFetcher struct {
	src Source
	dir string
}

// NewSensorFetcher returns a fetcher for d's PCI hwmon node.
func NewSensorFetcher(d *Device) *SensorFetcher {
	return &SensorFetcher{
		src: d.src,
		dir: path.Join(d.sysfs, "bus", "pci", "devices", d.busName, "hwmon"),
	}
}

// hwmonDir finds the hwmonN directory under the device node.
func (f *SensorFetcher) hwmonDir() (string, error) {
	names, err := f.src.ListDir(f.dir)
	if err != nil {
		return "", &Error{Code: CodeHwmon, Op: "list hwmon", Path: f.dir, Err: err}
	}
	for _, name := range names {
		if strings.HasPrefix(name, "hwmon") {
			return path.Join(f.dir, name), nil
		}
	}
	return "", newError(CodeHwmon, "list hwmon", "no hwmon node under %s", f.dir)
}

type sensorEntry struct {
	idx   int
	label string
	value string
}

// Read returns the sensors of type t ordered by their hwmon index. A
// sensor without a value attribute is left out. Values that fail to parse
// are reported in the returned error alongside the readable ones.
func (f *SensorFetcher) Read(t SensorType) ([]SensorValue, error) {
	dir, err := f.hwmonDir()
	if err != nil {
		return nil, err
	}
	names, err := f.src.ListDir(dir)
	if err != nil {
		return nil, &Error{Code: CodeHwmon, Op: "list sensors", Path: dir, Err: err}
	}

	entries := make(map[int]*sensorEntry)
	for _, name := range names {
		idx, item, ok := splitSensorName(name, t)
		if !ok {
			continue
		}
		e, ok := entries[idx]
		if !ok {
			e = &sensorEntry{idx: idx}
			entries[idx] = e
		}
		switch item {
		case "label":
			e.label = name
		case t.valueItem():
			e.value = name
		}
	}

	sorted := make([]*sensorEntry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].idx < sorted[j].idx })

	var out []SensorValue
	var failures []error
	for _, e := range sorted {
		if e.value == "" {
			continue
		}
		p := path.Join(dir, e.value)
		raw, err := readTrimmed(f.src, p)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			failures = append(failures, &Error{Code: CodeHwmon, Op: "read sensor", Path: p, Err: err})
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			failures = append(failures, &Error{Code: CodeHwmon, Op: "parse sensor", Path: p, Err: err})
			continue
		}
		label := strconv.Itoa(e.idx)
		if e.label != "" {
			lp := path.Join(dir, e.label)
			l, err := readTrimmed(f.src, lp)
			switch {
			case err != nil && !isNotExist(err):
				failures = append(failures, &Error{Code: CodeHwmon, Op: "read sensor label", Path: lp, Err: err})
			case err == nil && l != "":
				label = l
			}
		}
		out = append(out, SensorValue{Label: label, Value: v})
	}
	return out, errors.Join(failures...)
}

// splitSensorName splits "temp3_input" into 3 and "input" when the prefix
// is t.
func splitSensorName(name string, t SensorType) (int, string, bool) {
	rest, ok := strings.CutPrefix(name, string(t))
	if !ok {
		return 0, "", false
	}
	num, item, ok := strings.Cut(rest, "_")
	if !ok || num == "" {
		return 0, "", false
	}
	idx, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", false
	}
	return idx, item, true
}

// ReadCurrents returns current sensors in milliamperes.
func (f *SensorFetcher) ReadCurrents() ([]SensorValue, error) {
	return f.Read(SensorCurrent)
}

// ReadVoltages returns voltage sensors in millivolts.
func (f *SensorFetcher) ReadVoltages() ([]SensorValue, error) {
	return f.Read(SensorVoltage)
}

// ReadPowersAverage returns average power sensors in microwatts.
func (f *SensorFetcher) ReadPowersAverage() ([]SensorValue, error) {
	return f.Read(SensorPower)
}

// ReadTemperatures returns temperature sensors in millidegrees Celsius.
func (f *SensorFetcher) ReadTemperatures() ([]SensorValue, error) {
	return f.Read(SensorTemperature)
}

// ReadContext is Read for callers that must be able to abandon the read.
// It performs the same attribute reads as Read.
func (f *SensorFetcher) ReadContext(ctx context.Context, t SensorType) ([]SensorValue, error) {
	type reading struct {
		values []SensorValue
		err    error
	}
	r, err := await(ctx, func() (reading, error) {
		v, err := f.Read(t)
		return reading{v, err}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s sensors: %w", t, err)
	}
	return r.values, r.err
}

func (f *SensorFetcher) ReadCurrentsContext(ctx context.Context) ([]SensorValue, error) {
	return f.ReadContext(ctx, SensorCurrent)
}

func (f *SensorFetcher) ReadVoltagesContext(ctx context.Context) ([]SensorValue, error) {
	return f.ReadContext(ctx, SensorVoltage)
}

func (f *SensorFetcher) ReadPowersAverageContext(ctx context.Context) ([]SensorValue, error) {
	return f.ReadContext(ctx, SensorPower)
}

func (f *SensorFetcher) ReadTemperaturesContext(ctx context.Context) ([]SensorValue, error) {
	return f.ReadContext(ctx, SensorTemperature)
}

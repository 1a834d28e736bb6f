package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/NavarchProject/npudev/pkg/npu"
)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkOutputFormat() error {
	switch outputFormat {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

// parseDeviceArg accepts a device index ("0") or name ("npu0").
func parseDeviceArg(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(s), "npu"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid device: %q (expected an index or npuN)", s)
	}
	return n, nil
}

func formatAlive(alive bool, err error) string {
	switch {
	case err != nil:
		return "Unknown"
	case alive:
		return "Alive"
	default:
		return "Dead"
	}
}

func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// formatSensor renders a hwmon reading in its natural unit.
func formatSensor(t npu.SensorType, v int64) string {
	switch t {
	case npu.SensorTemperature:
		return fmt.Sprintf("%.1f°C", float64(v)/1e3)
	case npu.SensorPower:
		return fmt.Sprintf("%.2f W", float64(v)/1e6)
	case npu.SensorVoltage:
		return fmt.Sprintf("%.3f V", float64(v)/1e3)
	case npu.SensorCurrent:
		return fmt.Sprintf("%.3f A", float64(v)/1e3)
	default:
		return strconv.FormatInt(v, 10)
	}
}

func sensorTypeName(t npu.SensorType) string {
	switch t {
	case npu.SensorTemperature:
		return "Temperature"
	case npu.SensorPower:
		return "Power"
	case npu.SensorVoltage:
		return "Voltage"
	case npu.SensorCurrent:
		return "Current"
	default:
		return string(t)
	}
}

func colorState(s npu.CoreState) string {
	switch s {
	case npu.CoreAvailable:
		return pterm.Green(s.String())
	case npu.CoreOccupied:
		return pterm.Yellow(s.String())
	default:
		return pterm.Red(s.String())
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

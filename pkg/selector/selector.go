// Package selector filters NPU devices with CEL expressions.
//
// Expressions see a single variable, device, holding:
//
//	device.index             int
//	device.name              string, e.g. "npu0"
//	device.arch              "warboy" or "rngd"
//	device.serial            string
//	device.uuid              string
//	device.firmware_version  string
//	device.driver_version    string
//	device.bus_name          string
//	device.pci_dev           string
//	device.core_num          int
//	device.alive             bool, read when the expression is evaluated
//
// For example: device.arch == "rngd" && device.index < 4.
package selector

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/NavarchProject/npudev/pkg/npu"
)

// Selector is a compiled device filter. The zero expression matches every
// device.
type Selector struct {
	expr    string
	program cel.Program
}

// Compile parses and type checks expr.
func Compile(expr string) (*Selector, error) {
	s := &Selector{expr: expr}
	if expr == "" {
		return s, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("device", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile selector %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("selector %q evaluates to %s, not bool", expr, t)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program for selector %q: %w", expr, err)
	}
	s.program = program
	return s, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(expr string) *Selector {
	s, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Selector) String() string {
	return s.expr
}

// Match reports whether d satisfies the selector.
func (s *Selector) Match(d *npu.Device) (bool, error) {
	if s == nil || s.program == nil {
		return true, nil
	}
	vars, err := deviceToMap(d)
	if err != nil {
		return false, err
	}
	out, _, err := s.program.Eval(map[string]any{"device": vars})
	if err != nil {
		return false, fmt.Errorf("evaluate selector on %s: %w", d.Name(), err)
	}
	if out.Type() != types.BoolType {
		return false, fmt.Errorf("selector on %s returned %s, not bool", d.Name(), out.Type().TypeName())
	}
	return out.Value().(bool), nil
}

// Filter returns the devices that match, in their original order. Devices
// that cannot be evaluated are left out and reported in the error.
func (s *Selector) Filter(devices []*npu.Device) ([]*npu.Device, error) {
	if s == nil || s.program == nil {
		return devices, nil
	}
	var out []*npu.Device
	var failures []error
	for _, d := range devices {
		ok, err := s.Match(d)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, errors.Join(failures...)
}

func deviceToMap(d *npu.Device) (map[string]any, error) {
	alive, err := d.Alive()
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	return map[string]any{
		"index":            int64(d.Index()),
		"name":             d.Name(),
		"arch":             d.Arch().String(),
		"serial":           d.Serial(),
		"uuid":             d.UUID(),
		"firmware_version": d.FirmwareVersion(),
		"driver_version":   d.DriverVersion(),
		"bus_name":         d.BusName(),
		"pci_dev":          d.PCIDev(),
		"core_num":         int64(d.CoreNum()),
		"alive":            alive,
	}, nil
}

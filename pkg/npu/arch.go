package npu

import (
	"fmt"
	"path"
	"strings"
)

// Arch is an NPU silicon generation.
type Arch int

const (
	// ArchAny matches every architecture. It is only meaningful in a
	// DeviceConfig; no device reports it.
	ArchAny Arch = iota
	ArchWarboy
	ArchRNGD
)

// Archs lists the architectures the Registry detects, in detection order.
func Archs() []Arch {
	return []Arch{ArchWarboy, ArchRNGD}
}

func (a Arch) String() string {
	switch a {
	case ArchAny:
		return "*"
	case ArchWarboy:
		return "warboy"
	case ArchRNGD:
		return "rngd"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Arch) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

var archAliases = map[string]Arch{
	"warboy":   ArchWarboy,
	"warboyb0": ArchWarboy,
	"rngd":     ArchRNGD,
	"renegade": ArchRNGD,
}

// ParseArch resolves a hardware or driver identifier to an Arch.
// Matching is case-insensitive.
func ParseArch(id string) (Arch, error) {
	if a, ok := archAliases[strings.ToLower(strings.TrimSpace(id))]; ok {
		return a, nil
	}
	return ArchAny, newError(CodeUnknownArch, "parse arch", "unrecognized identifier %q", id)
}

// identifyArch resolves the arch from the management attributes. The
// combined type and revision is tried first, as in "Warboy" + "B0".
func identifyArch(deviceType, socRev string) (Arch, error) {
	if a, err := ParseArch(deviceType + socRev); err == nil {
		return a, nil
	}
	if a, err := ParseArch(deviceType); err == nil {
		return a, nil
	}
	return ArchAny, newError(CodeUnknownArch, "identify arch",
		"device_type %q, soc_rev %q", deviceType, socRev)
}

// CoreNum returns the number of processing elements on one device.
func (a Arch) CoreNum() int {
	switch a {
	case ArchWarboy:
		return 2
	case ArchRNGD:
		return 8
	default:
		return 0
	}
}

// IsFusible reports whether n cores may be fused into one device file.
func (a Arch) IsFusible(n int) bool {
	switch a {
	case ArchWarboy:
		return n == 1 || n == 2
	case ArchRNGD:
		return n == 1 || n == 2 || n == 4
	case ArchAny:
		return n >= 1
	default:
		return false
	}
}

// Modes returns the device modes the arch exposes device files for.
func (a Arch) Modes() []DeviceMode {
	return []DeviceMode{ModeSingle, ModeFusion, ModeMultiCore}
}

func (a Arch) devfileDir(devfs string) string {
	if a == ArchRNGD {
		return path.Join(devfs, "rngd")
	}
	return devfs
}

func (a Arch) mgmtDir(sysfs string, index int) string {
	if a == ArchRNGD {
		return path.Join(sysfs, "class", "rngd_mgmt", fmt.Sprintf("rngd!npu%dmgmt", index))
	}
	return path.Join(sysfs, "class", "npu_mgmt", fmt.Sprintf("npu%d_mgmt", index))
}

func (a Arch) aliveFile() string {
	if a == ArchRNGD {
		return "device_state"
	}
	return "alive"
}

func (a Arch) clockFile() string {
	if a == ArchRNGD {
		return "npu_clocks"
	}
	return "ne_clk_freq_info"
}

func (a Arch) hasPerfRegs() bool {
	return a == ArchWarboy
}

package npu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DeviceMode is how a device file presents its cores.
type DeviceMode int

const (
	// ModeSingle addresses exactly one core.
	ModeSingle DeviceMode = iota
	// ModeFusion presents a contiguous multi-core range as one accelerator.
	ModeFusion
	// ModeMultiCore addresses the whole device as independently
	// schedulable cores.
	ModeMultiCore
)

func (m DeviceMode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeFusion:
		return "fusion"
	case ModeMultiCore:
		return "multicore"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m DeviceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseDeviceMode parses the String form of a DeviceMode.
func ParseDeviceMode(s string) (DeviceMode, error) {
	switch strings.ToLower(s) {
	case "single":
		return ModeSingle, nil
	case "fusion", "fused":
		return ModeFusion, nil
	case "multicore", "multi-core", "all":
		return ModeMultiCore, nil
	}
	return 0, newError(CodeInvalidInput, "parse mode", "unknown device mode %q", s)
}

// DeviceFile is a claimable device node granting access to a core range.
type DeviceFile struct {
	DeviceIndex int
	CoreRange   CoreRange
	Path        string
	Mode        DeviceMode
}

// Name returns the file name, e.g. "npu0pe0-1".
func (f DeviceFile) Name() string {
	return FormatDeviceFileName(f.DeviceIndex, f.CoreRange)
}

func (f DeviceFile) String() string {
	return f.Name()
}

// FormatDeviceFileName builds the canonical device file name.
func FormatDeviceFileName(index int, r CoreRange) string {
	switch {
	case r.IsAll():
		return fmt.Sprintf("npu%d", index)
	case r.Start == r.End:
		return fmt.Sprintf("npu%dpe%d", index, r.Start)
	default:
		return fmt.Sprintf("npu%dpe%d-%d", index, r.Start, r.End)
	}
}

var deviceFilePattern = regexp.MustCompile(`^npu(\d+)(?:pe(\d+)(?:-(\d+))?)?$`)

// ParsedName is a device file name that passed the syntactic check but has
// not yet been validated against a device.
type ParsedName struct {
	Index    int
	HasCores bool
	Start    int
	End      int
}

// ParseDeviceFileName parses npu<N>, npu<N>pe<C> or npu<N>pe<C1>-<C2>.
// Names that do not fit the grammar are CodeParse; a reversed range is
// CodeInvalidInput.
func ParseDeviceFileName(name string) (ParsedName, error) {
	m := deviceFilePattern.FindStringSubmatch(name)
	if m == nil {
		return ParsedName{}, newError(CodeParse, "parse device file name", "unrecognized name %q", name)
	}

	var p ParsedName
	var err error
	if p.Index, err = strconv.Atoi(m[1]); err != nil {
		return ParsedName{}, &Error{Code: CodeParse, Op: "parse device file name", Err: err}
	}
	if m[2] == "" {
		return p, nil
	}

	p.HasCores = true
	if p.Start, err = strconv.Atoi(m[2]); err != nil {
		return ParsedName{}, &Error{Code: CodeParse, Op: "parse device file name", Err: err}
	}
	p.End = p.Start
	if m[3] != "" {
		if p.End, err = strconv.Atoi(m[3]); err != nil {
			return ParsedName{}, &Error{Code: CodeParse, Op: "parse device file name", Err: err}
		}
	}
	if p.Start > p.End {
		return ParsedName{}, newError(CodeInvalidInput, "parse device file name",
			"%q: start core %d > end core %d", name, p.Start, p.End)
	}
	return p, nil
}

// Validate checks p against a device with coreNum cores and derives the
// file's core range and mode.
func (p ParsedName) Validate(coreNum int) (CoreRange, DeviceMode, error) {
	if !p.HasCores {
		return AllCores, ModeMultiCore, nil
	}
	r, err := NewCoreRange(p.Start, p.End, coreNum)
	if err != nil {
		return CoreRange{}, 0, err
	}
	if r.Start == r.End {
		return r, ModeSingle, nil
	}
	return r, ModeFusion, nil
}

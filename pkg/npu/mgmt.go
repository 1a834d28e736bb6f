package npu

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Management attribute names under a device's mgmt directory.
const (
	fileATRError     = "atr_error"
	fileBusName      = "busname"
	fileDev          = "dev"
	fileDeviceSN     = "device_sn"
	fileDeviceType   = "device_type"
	fileDeviceUUID   = "device_uuid"
	fileFWVersion    = "fw_version"
	fileHeartbeat    = "heartbeat"
	filePlatformType = "platform_type"
	fileSocRev       = "soc_rev"
	fileSocUID       = "soc_uid"
	fileVersion      = "version"
)

// Pair is one labeled value from an attribute that reports several
// counters. Order follows the source.
type Pair struct {
	Label string `json:"label"`
	Value uint32 `json:"value"`
}

// ClockFrequency is one clock domain reading.
type ClockFrequency struct {
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Value uint32 `json:"value"`
}

func isNPUPlatform(platformType string) bool {
	switch strings.TrimSpace(platformType) {
	case "FuriosaAI", "VITIS":
		return true
	}
	return false
}

func parseAlive(arch Arch, s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	if arch == ArchRNGD {
		// device_state carries other states besides 0 and 1.
		return false, nil
	}
	return false, newError(CodeUnexpectedValue, "read alive", "bad alive value %q (only 0 or 1 expected)", s)
}

func parseHeartbeat(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, newError(CodeUnexpectedValue, "read heartbeat", "bad heartbeat value %q", s)
	}
	return uint32(v), nil
}

// parseErrorStates parses lines of the form "AXI Post Error: 0" into pairs
// labeled "axi_post_error". Lines without a colon are headers and skipped.
func parseErrorStates(s string) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return pairs, newError(CodeParse, "read error states", "bad line %q", line)
		}
		label := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		pairs = append(pairs, Pair{Label: label, Value: uint32(v)})
	}
	return pairs, nil
}

var clockFrequencyPattern = regexp.MustCompile(`^(?P<name>[\w ]+)\((?P<unit>.*)\): (?P<value>\d+)$`)

// parseClockFrequencies keeps the lines that look like "ne tensor (MHz): 2000".
func parseClockFrequencies(s string) []ClockFrequency {
	var out []ClockFrequency
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		m := clockFrequencyPattern.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[3], 10, 32)
		if err != nil {
			continue
		}
		out = append(out, ClockFrequency{
			Name:  strings.TrimSpace(m[1]),
			Unit:  strings.TrimSpace(m[2]),
			Value: uint32(v),
		})
	}
	return out
}

func parseNUMANode(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, newError(CodeParse, "read numa node", "bad value %q", s)
	}
	switch {
	case v == -1:
		return 0, newError(CodeUnsupported, "read numa node", "host has no NUMA topology")
	case v < -1:
		return 0, newError(CodeUnexpectedValue, "read numa node", "bad value %d", v)
	}
	return v, nil
}

package npu

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DeviceConfig describes the device files a caller wants.
type DeviceConfig struct {
	Arch Arch
	Mode DeviceMode
	// Cores restricts fused files to this many cores. Zero accepts any
	// width.
	Cores int
	// Name pins the request to one device file, e.g. "npu0pe0-1".
	Name string
	// Count is the number of device files requested.
	Count int
}

// matches reports whether f has the shape cfg asks for, ignoring
// availability.
func (c DeviceConfig) matches(arch Arch, f DeviceFile) bool {
	if c.Arch != ArchAny && c.Arch != arch {
		return false
	}
	if c.Name != "" {
		return f.Name() == c.Name
	}
	if f.Mode != c.Mode {
		return false
	}
	return c.Cores == 0 || f.CoreRange.Len(arch.CoreNum()) == c.Cores
}

func (c DeviceConfig) String() string {
	if c.Name != "" {
		p, err := ParseDeviceFileName(c.Name)
		if err == nil && p.HasCores {
			r := CoreRange{Start: p.Start, End: p.End}
			return fmt.Sprintf("npu:%d:%s", p.Index, r)
		}
		return c.Name
	}
	switch c.Mode {
	case ModeMultiCore:
		return fmt.Sprintf("%s(all)*%d", c.Arch, c.Count)
	case ModeSingle:
		return fmt.Sprintf("%s*%d", c.Arch, c.Count)
	default:
		if c.Cores == 0 {
			return fmt.Sprintf("%s(fusion)*%d", c.Arch, c.Count)
		}
		return fmt.Sprintf("%s(%d)*%d", c.Arch, c.Cores, c.Count)
	}
}

var (
	namedConfigPattern   = regexp.MustCompile(`^npu:(\d+):(\d+)(?:-(\d+))?$`)
	unnamedConfigPattern = regexp.MustCompile(`^([a-z0-9]+|\*)(?:\(([a-z0-9]+)\))?\*(\d+)$`)
)

// ParseDeviceConfig parses one request in the text form:
//
//	npu:0:0        the file npu0pe0
//	npu:0:0-1      the file npu0pe0-1
//	warboy*2       two single-core files
//	warboy(1)*2    the same
//	rngd(4)*1      one file fusing four cores
//	*(fusion)*1    one fused file of any width on any arch
//	warboy(all)*1  one whole-device file
func ParseDeviceConfig(s string) (DeviceConfig, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if m := namedConfigPattern.FindStringSubmatch(s); m != nil {
		name := "npu" + m[1] + "pe" + m[2]
		if m[3] != "" {
			name += "-" + m[3]
		}
		if _, err := ParseDeviceFileName(name); err != nil {
			return DeviceConfig{}, err
		}
		return DeviceConfig{Arch: ArchAny, Name: name, Count: 1}, nil
	}

	m := unnamedConfigPattern.FindStringSubmatch(s)
	if m == nil {
		return DeviceConfig{}, newError(CodeParse, "parse device config", "unrecognized config %q", s)
	}
	cfg := DeviceConfig{Arch: ArchAny, Mode: ModeSingle}
	if m[1] != "*" {
		arch, err := ParseArch(m[1])
		if err != nil {
			return DeviceConfig{}, &Error{Code: CodeParse, Op: "parse device config", Err: err}
		}
		cfg.Arch = arch
	}

	switch m[2] {
	case "", "1":
	case "all":
		cfg.Mode = ModeMultiCore
	case "fusion", "fused":
		cfg.Mode = ModeFusion
	default:
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return DeviceConfig{}, newError(CodeParse, "parse device config", "bad core count %q", m[2])
		}
		if !cfg.Arch.IsFusible(n) {
			return DeviceConfig{}, newError(CodeInvalidInput, "parse device config",
				"%s cannot fuse %d cores", cfg.Arch, n)
		}
		cfg.Mode = ModeFusion
		cfg.Cores = n
	}

	count, err := strconv.Atoi(m[3])
	if err != nil || count < 1 {
		return DeviceConfig{}, newError(CodeParse, "parse device config", "bad count %q", m[3])
	}
	cfg.Count = count
	return cfg, nil
}

// ParseDeviceConfigs parses a comma separated list of requests. Pinned
// requests sort before the rest so they are resolved first.
func ParseDeviceConfigs(s string) ([]DeviceConfig, error) {
	var cfgs []DeviceConfig
	for _, part := range strings.Split(s, ",") {
		cfg, err := ParseDeviceConfig(part)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	sort.SliceStable(cfgs, func(i, j int) bool {
		return cfgs[i].Name != "" && cfgs[j].Name == ""
	})
	return cfgs, nil
}

// FormatDeviceConfigs is the inverse of ParseDeviceConfigs.
func FormatDeviceConfigs(cfgs []DeviceConfig) string {
	parts := make([]string, len(cfgs))
	for i, c := range cfgs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

type configSource struct {
	env     string
	literal string
}

// EnvBuilder picks a device request from the first environment variable
// that is set, then the first literal given, then the fallback.
type EnvBuilder struct {
	sources  []configSource
	fallback []DeviceConfig
	lookup   func(string) (string, bool)
	logger   *slog.Logger
}

// ConfigFromEnv starts a builder that consults key first.
func ConfigFromEnv(key string) *EnvBuilder {
	return &EnvBuilder{
		sources: []configSource{{env: key}},
		lookup:  os.LookupEnv,
		logger:  slog.Default(),
	}
}

// OrEnv adds another environment variable to consult.
func (b *EnvBuilder) OrEnv(key string) *EnvBuilder {
	b.sources = append(b.sources, configSource{env: key})
	return b
}

// OrTry adds a literal request, skipped when empty.
func (b *EnvBuilder) OrTry(s string) *EnvBuilder {
	if s != "" {
		b.sources = append(b.sources, configSource{literal: s})
	}
	return b
}

// Or sets the request used when nothing else is present.
func (b *EnvBuilder) Or(cfgs ...DeviceConfig) *EnvBuilder {
	b.fallback = cfgs
	return b
}

// OrDefault falls back to DefaultDeviceConfig.
func (b *EnvBuilder) OrDefault() *EnvBuilder {
	return b.Or(DefaultDeviceConfig())
}

// WithLookup replaces os.LookupEnv, mainly for tests.
func (b *EnvBuilder) WithLookup(lookup func(string) (string, bool)) *EnvBuilder {
	b.lookup = lookup
	return b
}

// Build resolves the request.
func (b *EnvBuilder) Build() ([]DeviceConfig, error) {
	for _, src := range b.sources {
		if src.literal != "" {
			b.logger.Debug("using device config literal", slog.String("config", src.literal))
			return ParseDeviceConfigs(src.literal)
		}
		value, ok := b.lookup(src.env)
		if !ok {
			continue
		}
		b.logger.Debug("using device config from environment",
			slog.String("config", value), slog.String("env", src.env))
		return ParseDeviceConfigs(value)
	}
	if len(b.fallback) == 0 {
		return nil, newError(CodeParse, "build device config", "no config found and no fallback set")
	}
	return b.fallback, nil
}

// DefaultDeviceConfig requests one fused Warboy.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{Arch: ArchWarboy, Mode: ModeFusion, Cores: 2, Count: 1}
}

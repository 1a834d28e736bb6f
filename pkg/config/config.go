package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NavarchProject/npudev/pkg/health"
	"github.com/NavarchProject/npudev/pkg/notify"
	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/selector"
)

// Environment variables that override file values.
const (
	EnvDevfs   = "NPU_DEVFS"
	EnvSysfs   = "NPU_SYSFS"
	EnvProcfs  = "NPU_PROCFS"
	EnvDevices = "NPU_DEVICES"
	EnvToken   = "NPU_EXPORTER_TOKEN"
)

// Config is the root configuration shared by npuctl and npu-exporter.
type Config struct {
	Paths    PathsConfig    `yaml:"paths,omitempty"`
	Exporter ExporterConfig `yaml:"exporter,omitempty"`

	// Selector is a CEL expression restricting which devices are reported.
	Selector string `yaml:"selector,omitempty"`

	// Devices is the default device request, e.g. "warboy(2)*1".
	Devices string `yaml:"devices,omitempty"`

	// HealthPolicy is a path to a health policy file. The built-in policy
	// is used when empty.
	HealthPolicy string `yaml:"health_policy,omitempty"`
}

// PathsConfig locates the kernel interfaces.
type PathsConfig struct {
	Devfs  string `yaml:"devfs,omitempty"`  // Default: /dev
	Sysfs  string `yaml:"sysfs,omitempty"`  // Default: /sys
	Procfs string `yaml:"procfs,omitempty"` // Default: /proc
}

// ExporterConfig configures the metrics daemon.
type ExporterConfig struct {
	Address     string `yaml:"address,omitempty"`      // Default: ":9273"
	MetricsPath string `yaml:"metrics_path,omitempty"` // Default: "/metrics"

	// RefreshInterval is how often the device list is rediscovered.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
	// SampleInterval is how often performance counters are sampled.
	SampleInterval time.Duration `yaml:"sample_interval,omitempty"`

	// AuthToken, when set, is required as a bearer token on the metrics
	// path. Health endpoints stay open.
	AuthToken string `yaml:"auth_token,omitempty"`

	// Webhook receives device health transitions.
	Webhook notify.WebhookConfig `yaml:"webhook,omitempty"`

	DisableSensors   bool `yaml:"disable_sensors,omitempty"`
	DisableProcesses bool `yaml:"disable_processes,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. Environment overrides are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse parses YAML configuration. lookup supplies environment overrides
// and may be nil.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides fields from the NPU_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvDevfs, &c.Paths.Devfs},
		{EnvSysfs, &c.Paths.Sysfs},
		{EnvProcfs, &c.Paths.Procfs},
		{EnvDevices, &c.Devices},
		{EnvToken, &c.Exporter.AuthToken},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Exporter.RefreshInterval < 0 {
		return fmt.Errorf("exporter.refresh_interval must be >= 0")
	}
	if c.Exporter.SampleInterval < 0 {
		return fmt.Errorf("exporter.sample_interval must be >= 0")
	}
	if p := c.Exporter.MetricsPath; p != "" && p[0] != '/' {
		return fmt.Errorf("exporter.metrics_path %q must start with /", p)
	}
	if u := c.Exporter.Webhook.URL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("exporter.webhook.url %q must be an http(s) URL", u)
		}
	}
	if c.Exporter.Webhook.Timeout < 0 {
		return fmt.Errorf("exporter.webhook.timeout must be >= 0")
	}
	if c.Devices != "" {
		if _, err := npu.ParseDeviceConfigs(c.Devices); err != nil {
			return fmt.Errorf("devices: %w", err)
		}
	}
	if _, err := selector.Compile(c.Selector); err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Paths.Devfs == "" {
		c.Paths.Devfs = npu.DefaultDevfs
	}
	if c.Paths.Sysfs == "" {
		c.Paths.Sysfs = npu.DefaultSysfs
	}
	if c.Paths.Procfs == "" {
		c.Paths.Procfs = npu.DefaultProcfs
	}
	if c.Exporter.Address == "" {
		c.Exporter.Address = ":9273"
	}
	if c.Exporter.MetricsPath == "" {
		c.Exporter.MetricsPath = "/metrics"
	}
	if c.Exporter.RefreshInterval == 0 {
		c.Exporter.RefreshInterval = time.Minute
	}
	if c.Exporter.SampleInterval == 0 {
		c.Exporter.SampleInterval = 5 * time.Second
	}
}

// DeviceConfigs parses the configured device request, falling back to
// npu.DefaultDeviceConfig.
func (c *Config) DeviceConfigs() ([]npu.DeviceConfig, error) {
	if c.Devices == "" {
		return []npu.DeviceConfig{npu.DefaultDeviceConfig()}, nil
	}
	return npu.ParseDeviceConfigs(c.Devices)
}

// DeviceSelector compiles the configured device selector.
func (c *Config) DeviceSelector() (*selector.Selector, error) {
	return selector.Compile(c.Selector)
}

// LoadHealthPolicy loads the configured health policy, falling back to
// health.DefaultPolicy.
func (c *Config) LoadHealthPolicy() (*health.Policy, error) {
	if c.HealthPolicy == "" {
		return health.DefaultPolicy(), nil
	}
	return health.LoadPolicy(c.HealthPolicy)
}

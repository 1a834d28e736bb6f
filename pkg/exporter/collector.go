package exporter

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/NavarchProject/npudev/pkg/health"
	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/selector"
)

// Collector exposes device state as Prometheus metrics. Every scrape reads
// the Source again; only the device list comes from the cache.
type Collector struct {
	cache    *npu.DeviceCache
	selector *selector.Selector
	sampler  *Sampler
	scanner  *npu.ProcessScanner
	health   *health.Evaluator
	sensors  bool
	logger   *slog.Logger

	mu sync.Mutex

	deviceInfo      *prometheus.GaugeVec
	deviceAlive     *prometheus.GaugeVec
	deviceHeartbeat *prometheus.GaugeVec
	deviceErrors    *prometheus.GaugeVec
	deviceClock     *prometheus.GaugeVec
	deviceHealth    *prometheus.GaugeVec
	coreStatus      *prometheus.GaugeVec
	coreUtilization *prometheus.GaugeVec
	coreComputation *prometheus.GaugeVec
	coreIO          *prometheus.GaugeVec
	temperature     *prometheus.GaugeVec
	power           *prometheus.GaugeVec
	voltage         *prometheus.GaugeVec
	current         *prometheus.GaugeVec
	fileProcesses   *prometheus.GaugeVec
	scrapeErrors    *prometheus.CounterVec
}

// CollectorOptions configures a Collector. Cache is required; a nil
// Sampler, Scanner or Health disables the corresponding metrics.
type CollectorOptions struct {
	Cache    *npu.DeviceCache
	Selector *selector.Selector
	Sampler  *Sampler
	Scanner  *npu.ProcessScanner
	Health   *health.Evaluator
	Sensors  bool
	Logger   *slog.Logger
}

// NewCollector returns a Collector.
func NewCollector(opts CollectorOptions) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	}
	return &Collector{
		cache:    opts.Cache,
		selector: opts.Selector,
		sampler:  opts.Sampler,
		scanner:  opts.Scanner,
		health:   opts.Health,
		sensors:  opts.Sensors,
		logger:   logger,

		deviceInfo: gauge("npu_device_info",
			"Static device identity, always 1",
			"device", "arch", "serial", "uuid", "firmware_version", "driver_version", "bus_name"),
		deviceAlive: gauge("npu_device_alive",
			"Whether the firmware reports the device healthy (1) or not (0)",
			"device"),
		deviceHeartbeat: gauge("npu_device_heartbeat",
			"Firmware heartbeat counter",
			"device"),
		deviceErrors: gauge("npu_device_error_count",
			"Hardware error counters by kind",
			"device", "kind"),
		deviceClock: gauge("npu_device_clock_frequency",
			"Clock frequency by domain, in the unit of the unit label",
			"device", "domain", "unit"),
		deviceHealth: gauge("npu_device_health",
			"Health policy result, 1 for the current status",
			"device", "status", "rule"),
		coreStatus: gauge("npu_core_status",
			"Core occupancy, 1 for the current state",
			"device", "core", "state", "holder"),
		coreUtilization: gauge("npu_core_utilization_ratio",
			"Share of cycles spent executing tasks over the last sample interval",
			"device", "core"),
		coreComputation: gauge("npu_core_computation_ratio",
			"Share of task cycles spent on tensor computation",
			"device", "core"),
		coreIO: gauge("npu_core_io_ratio",
			"Share of task cycles not spent on tensor computation",
			"device", "core"),
		temperature: gauge("npu_temperature_celsius",
			"Temperature sensor readings",
			"device", "sensor"),
		power: gauge("npu_power_watts",
			"Average power sensor readings",
			"device", "sensor"),
		voltage: gauge("npu_voltage_volts",
			"Voltage sensor readings",
			"device", "sensor"),
		current: gauge("npu_current_amperes",
			"Current sensor readings",
			"device", "sensor"),
		fileProcesses: gauge("npu_device_file_processes",
			"Number of processes holding a device file open",
			"device_file"),
		scrapeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "npu_scrape_errors_total",
			Help: "Errors encountered while collecting, by source",
		}, []string{"source"}),
	}
}

func (c *Collector) vecs() []prometheus.Collector {
	return []prometheus.Collector{
		c.deviceInfo, c.deviceAlive, c.deviceHeartbeat, c.deviceErrors, c.deviceClock,
		c.deviceHealth, c.coreStatus, c.coreUtilization, c.coreComputation, c.coreIO,
		c.temperature, c.power, c.voltage, c.current,
		c.fileProcesses, c.scrapeErrors,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, v := range c.vecs() {
		v.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refresh()
	for _, v := range c.vecs() {
		v.Collect(ch)
	}
}

func (c *Collector) fail(source string, err error) {
	c.scrapeErrors.WithLabelValues(source).Inc()
	c.logger.Warn("collect failed", slog.String("source", source), slog.String("error", err.Error()))
}

func (c *Collector) refresh() {
	for _, v := range []*prometheus.GaugeVec{
		c.deviceInfo, c.deviceAlive, c.deviceHeartbeat, c.deviceErrors, c.deviceClock,
		c.deviceHealth, c.coreStatus, c.coreUtilization, c.coreComputation, c.coreIO,
		c.temperature, c.power, c.voltage, c.current, c.fileProcesses,
	} {
		v.Reset()
	}

	devices, err := c.cache.Devices()
	if err != nil {
		c.fail("list_devices", err)
	}
	devices, err = c.selector.Filter(devices)
	if err != nil {
		c.fail("selector", err)
	}

	var g errgroup.Group
	for _, d := range devices {
		g.Go(func() error {
			c.collectDevice(d)
			return nil
		})
	}
	_ = g.Wait()

	if c.sampler != nil {
		c.collectUtilization(devices)
	}
	if c.scanner != nil {
		c.collectProcesses()
	}
}

func (c *Collector) collectDevice(d *npu.Device) {
	dev := d.Name()
	c.deviceInfo.WithLabelValues(dev, d.Arch().String(), d.Serial(), d.UUID(),
		d.FirmwareVersion(), d.DriverVersion(), d.BusName()).Set(1)

	if alive, err := d.Alive(); err != nil {
		c.fail("alive", err)
	} else {
		c.deviceAlive.WithLabelValues(dev).Set(boolFloat(alive))
	}

	if hb, err := d.Heartbeat(); err != nil {
		c.fail("heartbeat", err)
	} else {
		c.deviceHeartbeat.WithLabelValues(dev).Set(float64(hb))
	}

	if states, err := d.ErrorStates(); err != nil {
		c.fail("error_states", err)
	} else {
		for _, p := range states {
			c.deviceErrors.WithLabelValues(dev, p.Label).Set(float64(p.Value))
		}
	}

	if clocks, err := d.ClockFrequencies(); err != nil {
		c.fail("clock_frequencies", err)
	} else {
		for _, f := range clocks {
			c.deviceClock.WithLabelValues(dev, f.Name, f.Unit).Set(float64(f.Value))
		}
	}

	statuses, err := d.AllCoreStatus()
	if err != nil {
		c.fail("core_status", err)
	}
	for core, st := range statuses {
		c.coreStatus.WithLabelValues(dev, strconv.Itoa(core), st.State.String(), st.Holder).Set(1)
	}

	if c.sensors {
		c.collectSensors(d)
	}

	if c.health != nil {
		snapshot, err := health.Snapshot(d)
		if err != nil {
			c.logger.Debug("incomplete health snapshot", slog.String("device", dev), slog.String("error", err.Error()))
		}
		eval := c.health.Evaluate(snapshot)
		c.deviceHealth.WithLabelValues(dev, string(eval.Status), eval.Rule).Set(1)
	}
}

func (c *Collector) collectSensors(d *npu.Device) {
	fetcher := npu.NewSensorFetcher(d)
	families := []struct {
		t   npu.SensorType
		vec *prometheus.GaugeVec
		div float64
	}{
		{npu.SensorTemperature, c.temperature, 1e3},
		{npu.SensorPower, c.power, 1e6},
		{npu.SensorVoltage, c.voltage, 1e3},
		{npu.SensorCurrent, c.current, 1e3},
	}
	for _, fam := range families {
		values, err := fetcher.Read(fam.t)
		if err != nil {
			c.fail("hwmon", err)
		}
		for _, v := range values {
			fam.vec.WithLabelValues(d.Name(), v.Label).Set(float64(v.Value) / fam.div)
		}
	}
}

func (c *Collector) collectUtilization(devices []*npu.Device) {
	wanted := make(map[int]bool, len(devices))
	for _, d := range devices {
		wanted[d.Index()] = true
	}
	for _, s := range c.sampler.Samples() {
		if !wanted[s.Device] {
			continue
		}
		dev, core := "npu"+strconv.Itoa(s.Device), strconv.Itoa(s.Core)
		c.coreUtilization.WithLabelValues(dev, core).Set(s.Utilization.NPUUtilization)
		c.coreComputation.WithLabelValues(dev, core).Set(s.Utilization.ComputationRatio)
		c.coreIO.WithLabelValues(dev, core).Set(s.Utilization.IORatio)
	}
}

func (c *Collector) collectProcesses() {
	procs, err := c.scanner.Scan()
	if err != nil {
		c.fail("processes", err)
	}
	for _, p := range procs {
		c.fileProcesses.WithLabelValues(p.DeviceFile).Inc()
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

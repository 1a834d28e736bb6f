// Package exporter publishes NPU device state as Prometheus metrics.
package exporter

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NavarchProject/npudev/pkg/clock"
	"github.com/NavarchProject/npudev/pkg/health"
	"github.com/NavarchProject/npudev/pkg/notify"
	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/selector"
)

// Options configures an Exporter.
type Options struct {
	Registry *npu.Registry
	Selector *selector.Selector
	// Scanner reports device file holders. Nil disables process metrics.
	Scanner  *npu.ProcessScanner
	// Health classifies devices. Nil disables the health metric.
	Health   *health.Evaluator
	// Notifier receives health transitions. Requires Health.
	Notifier notify.Notifier
	Sensors  bool

	// RefreshInterval is how often the device list is rediscovered.
	RefreshInterval time.Duration
	// SampleInterval is how often utilization counters are read.
	SampleInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Exporter owns the device cache, the utilization sampler and the metrics
// registry. Run drives the periodic work; scrapes go through Handler.
type Exporter struct {
	opts      Options
	cache     *npu.DeviceCache
	sampler   *Sampler
	collector *Collector
	registry  *prometheus.Registry

	mu     sync.Mutex
	health map[string]health.Result
}

// New returns an Exporter. Zero intervals default to one minute for
// refresh and five seconds for sampling.
func New(opts Options) *Exporter {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 5 * time.Second
	}

	cache := npu.NewDeviceCache(opts.Registry)
	sampler := NewSampler(npu.NewCounterReader(opts.Registry, opts.Clock.Now), opts.Logger)
	collector := NewCollector(CollectorOptions{
		Cache:    cache,
		Selector: opts.Selector,
		Sampler:  sampler,
		Scanner:  opts.Scanner,
		Health:   opts.Health,
		Sensors:  opts.Sensors,
		Logger:   opts.Logger,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	reg.MustRegister(collectors.NewGoCollector())

	return &Exporter{
		opts:      opts,
		cache:     cache,
		sampler:   sampler,
		collector: collector,
		registry:  reg,
		health:    make(map[string]health.Result),
	}
}

// Registry returns the Prometheus registry metrics are gathered from.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(e.opts.Logger.Handler(), slog.LevelError),
	})
}

// Sampler returns the utilization sampler.
func (e *Exporter) Sampler() *Sampler {
	return e.sampler
}

// SampleOnce reads utilization counters for the selected devices.
func (e *Exporter) SampleOnce() {
	devices, err := e.cache.Devices()
	if err != nil {
		e.opts.Logger.Warn("listing devices", slog.String("error", err.Error()))
	}
	devices, err = e.opts.Selector.Filter(devices)
	if err != nil {
		e.opts.Logger.Warn("applying selector", slog.String("error", err.Error()))
	}
	if err := e.sampler.Sample(devices); err != nil {
		e.opts.Logger.Warn("sampling counters", slog.String("error", err.Error()))
	}
}

// CheckHealth evaluates the selected devices and notifies on every status
// change. A device first seen healthy is not reported. Devices that
// disappear are forgotten.
func (e *Exporter) CheckHealth(ctx context.Context) {
	if e.opts.Health == nil || e.opts.Notifier == nil {
		return
	}
	devices, err := e.cache.Devices()
	if err != nil {
		e.opts.Logger.Warn("listing devices", slog.String("error", err.Error()))
	}
	devices, err = e.opts.Selector.Filter(devices)
	if err != nil {
		e.opts.Logger.Warn("applying selector", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		eval, err := e.opts.Health.EvaluateDevice(ctx, d)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.opts.Logger.Debug("incomplete health snapshot",
				slog.String("device", d.Name()), slog.String("error", err.Error()))
		}
		seen[d.Name()] = true

		prev, known := e.health[d.Name()]
		e.health[d.Name()] = eval.Status
		if prev == eval.Status || (!known && eval.Status == health.ResultHealthy) {
			continue
		}

		event := notify.Event{
			Type:     notify.EventHealthChanged,
			Device:   d.Name(),
			Status:   string(eval.Status),
			Previous: string(prev),
			Rule:     eval.Rule,
			Time:     e.opts.Clock.Now(),
		}
		if err := e.opts.Notifier.Notify(ctx, event); err != nil {
			e.opts.Logger.Warn("health notification failed",
				slog.String("notifier", e.opts.Notifier.Name()),
				slog.String("device", d.Name()),
				slog.String("error", err.Error()))
		}
	}
	for name := range e.health {
		if !seen[name] {
			delete(e.health, name)
		}
	}
}

// Refresh drops the cached device list so the next scrape rediscovers
// devices.
func (e *Exporter) Refresh() {
	e.cache.Invalidate()
}

// Run samples counters and refreshes the device list until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	refresh := e.opts.Clock.NewTicker(e.opts.RefreshInterval)
	defer refresh.Stop()
	sample := e.opts.Clock.NewTicker(e.opts.SampleInterval)
	defer sample.Stop()

	e.opts.Logger.Info("exporter running",
		slog.Duration("refresh_interval", e.opts.RefreshInterval),
		slog.Duration("sample_interval", e.opts.SampleInterval),
	)
	e.SampleOnce()
	e.CheckHealth(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C():
			e.opts.Logger.Debug("refreshing device list")
			e.Refresh()
		case <-sample.C():
			e.SampleOnce()
			e.CheckHealth(ctx)
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/NavarchProject/npudev/pkg/auth"
	"github.com/NavarchProject/npudev/pkg/config"
	"github.com/NavarchProject/npudev/pkg/exporter"
	"github.com/NavarchProject/npudev/pkg/health"
	"github.com/NavarchProject/npudev/pkg/notify"
	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	listenAddr := flag.String("listen", "", "Listen address (overrides exporter.address)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		cfg.ApplyEnv(os.LookupEnv)
	}
	if *listenAddr != "" {
		cfg.Exporter.Address = *listenAddr
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("exporter failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	sel, err := cfg.DeviceSelector()
	if err != nil {
		return err
	}

	policy, err := cfg.LoadHealthPolicy()
	if err != nil {
		return err
	}
	evaluator, err := health.NewEvaluator(policy)
	if err != nil {
		return err
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger.With(slog.String("component", "health")))}
	if cfg.Exporter.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Exporter.Webhook, logger))
	}

	registry := npu.NewRegistry(npu.NewSysfsSource(),
		npu.WithDevfs(cfg.Paths.Devfs),
		npu.WithSysfs(cfg.Paths.Sysfs),
		npu.WithLogger(logger.With(slog.String("component", "registry"))),
	)

	var scanner *npu.ProcessScanner
	if !cfg.Exporter.DisableProcesses {
		scanner, err = npu.NewProcessScanner(cfg.Paths.Procfs, cfg.Paths.Devfs, logger)
		if err != nil {
			logger.Warn("process metrics disabled", slog.String("error", err.Error()))
			scanner = nil
		}
	}

	exp := exporter.New(exporter.Options{
		Registry:        registry,
		Selector:        sel,
		Scanner:         scanner,
		Health:          evaluator,
		Notifier:        notifiers,
		Sensors:         !cfg.Exporter.DisableSensors,
		RefreshInterval: cfg.Exporter.RefreshInterval,
		SampleInterval:  cfg.Exporter.SampleInterval,
		Logger:          logger.With(slog.String("component", "exporter")),
	})

	logger.Info("starting npu-exporter",
		slog.String("addr", cfg.Exporter.Address),
		slog.String("metrics_path", cfg.Exporter.MetricsPath),
		slog.String("sysfs", cfg.Paths.Sysfs),
		slog.Bool("auth", cfg.Exporter.AuthToken != ""),
	)

	httpServer := &http.Server{
		Addr:              cfg.Exporter.Address,
		Handler:           h2c.NewHandler(newHandler(cfg, exp, registry, logger), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The driver may still be creating nodes when the exporter starts.
	devices, err := retry.DoWithValue(ctx, retry.DefaultConfig(), func(ctx context.Context) ([]*npu.Device, error) {
		devices, err := registry.ListDevicesContext(ctx)
		if err != nil && len(devices) == 0 {
			return nil, err
		}
		return devices, nil
	})
	if err != nil {
		logger.Warn("initial device discovery failed", slog.String("error", err.Error()))
	} else {
		logger.Info("discovered devices", slog.Int("count", len(devices)))
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- exp.Run(ctx)
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var result error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrChan:
		result = fmt.Errorf("serving metrics: %w", err)
	}

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exporter loop failed", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("npu-exporter stopped")
	return result
}

func newHandler(cfg *config.Config, exp *exporter.Exporter, registry *npu.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Exporter.MetricsPath, exp.Handler())
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", readyzHandler(registry, logger))

	if cfg.Exporter.AuthToken == "" {
		return mux
	}
	middleware := auth.NewMiddleware(
		auth.NewBearerToken(cfg.Exporter.AuthToken, "scraper"),
		auth.WithExcludedPaths("/healthz", "/readyz"),
		auth.WithLogger(logger),
	)
	return middleware.Wrap(mux)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// readyzHandler reports ready once at least one device can be read, or when
// the host has no devices at all.
func readyzHandler(registry *npu.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := registry.ListDevicesContext(r.Context())
		if err != nil && len(devices) == 0 {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("devices not readable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ready: %d devices", len(devices))
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/config"
	"github.com/NavarchProject/npudev/pkg/npu"
)

var (
	outputFormat string
	configPath   string
	devfsDir     string
	sysfsDir     string
	procfsDir    string
	verbose      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "npuctl",
		Short:        "Inspect NPU devices on this host",
		Long:         `npuctl lists NPU devices, reports core occupancy and resolves device requests to free device files.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&devfsDir, "devfs", "", "Device node directory (env: "+config.EnvDevfs+")")
	rootCmd.PersistentFlags().StringVar(&sysfsDir, "sysfs", "", "Sysfs mount point (env: "+config.EnvSysfs+")")
	rootCmd.PersistentFlags().StringVar(&procfsDir, "procfs", "", "Procfs mount point (env: "+config.EnvProcfs+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(sensorsCmd())
	rootCmd.AddCommand(topCmd())
	rootCmd.AddCommand(psCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(topologyCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every subcommand needs to reach the devices.
type env struct {
	cfg      *config.Config
	registry *npu.Registry
	logger   *slog.Logger
}

func loadEnv() (*env, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyEnv(os.LookupEnv)
	}
	if devfsDir != "" {
		cfg.Paths.Devfs = devfsDir
	}
	if sysfsDir != "" {
		cfg.Paths.Sysfs = sysfsDir
	}
	if procfsDir != "" {
		cfg.Paths.Procfs = procfsDir
	}

	registry := npu.NewRegistry(npu.NewSysfsSource(),
		npu.WithDevfs(cfg.Paths.Devfs),
		npu.WithSysfs(cfg.Paths.Sysfs),
		npu.WithLogger(logger),
	)
	return &env{cfg: cfg, registry: registry, logger: logger}, nil
}

// devices returns the devices named by args, or every device when args is
// empty. Devices that cannot be read are logged and skipped.
func (e *env) devices(ctx context.Context, args []string) ([]*npu.Device, error) {
	if len(args) == 0 {
		devices, err := e.registry.ListDevicesContext(ctx)
		if err != nil {
			if len(devices) == 0 {
				return nil, fmt.Errorf("failed to list devices: %w", err)
			}
			e.logger.Warn("some devices could not be read", slog.String("error", err.Error()))
		}
		return devices, nil
	}

	devices := make([]*npu.Device, 0, len(args))
	for _, arg := range args {
		index, err := parseDeviceArg(arg)
		if err != nil {
			return nil, err
		}
		d, err := e.registry.GetDeviceContext(ctx, index)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", arg, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/config"
	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/retry"
)

func findCmd() *cobra.Command {
	var pathsOnly bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "find [request]",
		Short: "Resolve a device request to free device files",
		Long: `Resolve a device request to device files whose cores are all free.

A request is a comma separated list of entries:
  warboy*2        two single-core files
  rngd(4)*1       one file fusing four cores
  *(fusion)*1     one fused file on any arch
  warboy(all)*1   one whole-device file
  npu:0:0-1       the named file npu0pe0-1

Without an argument the request is read from ` + config.EnvDevices + `, then
the configuration file, then defaults to warboy(2)*1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}

			var cfgs []npu.DeviceConfig
			if len(args) == 1 {
				cfgs, err = npu.ParseDeviceConfigs(args[0])
			} else {
				cfgs, err = npu.ConfigFromEnv(config.EnvDevices).OrTry(e.cfg.Devices).OrDefault().Build()
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rc := retry.Config{MaxAttempts: 1}
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
				rc = retry.Config{
					InitialDelay: 500 * time.Millisecond,
					MaxDelay:     5 * time.Second,
					Multiplier:   1.5,
					Retryable:    retry.OnCodes(npu.CodeDeviceNotFound, npu.CodeIO),
				}
			}
			files, err := retry.DoWithValue(ctx, rc, func(ctx context.Context) ([]npu.DeviceFile, error) {
				return npu.FindDeviceFilesForContext(ctx, e.registry, cfgs...)
			})
			if err != nil {
				return fmt.Errorf("failed to satisfy %s: %w", npu.FormatDeviceConfigs(cfgs), err)
			}

			switch {
			case pathsOnly:
				for _, f := range files {
					fmt.Println(f.Path)
				}
				return nil
			case outputFormat == "json":
				views := make([]fileView, 0, len(files))
				for _, f := range files {
					views = append(views, fileView{Name: f.Name(), Path: f.Path, Mode: f.Mode.String(), Cores: f.CoreRange.String()})
				}
				return outputJSON(os.Stdout, views)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Append([]string{"Device File", "Device", "Cores", "Mode", "Path"})
			for _, f := range files {
				table.Append([]string{f.Name(), "npu" + strconv.Itoa(f.DeviceIndex), f.CoreRange.String(), f.Mode.String(), f.Path})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying for up to this long while the request cannot be satisfied")
	cmd.Flags().BoolVar(&pathsOnly, "paths", false, "Print only device file paths, one per line")

	return cmd
}

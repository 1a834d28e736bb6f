package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/exporter"
	"github.com/NavarchProject/npudev/pkg/npu"
)

func topCmd() *cobra.Command {
	var interval time.Duration
	var count int

	cmd := &cobra.Command{
		Use:     "top [device...]",
		Aliases: []string{"perf"},
		Short:   "Show per-core utilization from performance counters",
		Long: `Show per-core utilization from performance counters.

Counters are only readable while a process holds the single-core device
file open, so idle cores are not listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			devices, err := e.devices(cmd.Context(), args)
			if err != nil {
				return err
			}

			sampler := exporter.NewSampler(npu.NewCounterReader(e.registry, time.Now), e.logger)
			if err := sampler.Sample(devices); err != nil {
				return err
			}
			for i := 0; count <= 0 || i < count; i++ {
				if err := sleep(cmd.Context(), interval); err != nil {
					return nil
				}
				if err := sampler.Sample(devices); err != nil {
					return err
				}
				if err := outputSamples(os.Stdout, sampler.Samples()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Sampling interval")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of reports, 0 to run until interrupted")

	return cmd
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outputSamples(w io.Writer, samples []exporter.Sample) error {
	if outputFormat == "json" {
		return outputJSON(w, samples)
	}
	if len(samples) == 0 {
		fmt.Fprintln(w, "No busy cores")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Append([]string{"Device", "Core", "Device File", "Utilization", "Computation", "I/O"})
	for _, s := range samples {
		table.Append([]string{
			"npu" + strconv.Itoa(s.Device),
			strconv.Itoa(s.Core),
			s.DeviceFile,
			formatPercent(s.Utilization.NPUUtilization),
			formatPercent(s.Utilization.ComputationRatio),
			formatPercent(s.Utilization.IORatio),
		})
	}
	table.Render()
	return nil
}

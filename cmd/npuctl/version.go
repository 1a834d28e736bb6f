package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type deviceVersion struct {
	Name            string `json:"name"`
	Arch            string `json:"arch"`
	FirmwareVersion string `json:"firmware_version"`
	DriverVersion   string `json:"driver_version"`
}

type versionInfo struct {
	Version   string          `json:"version"`
	Commit    string          `json:"commit"`
	BuildDate string          `json:"build_date"`
	GoVersion string          `json:"go_version"`
	Platform  string          `json:"platform"`
	Devices   []deviceVersion `json:"devices"`
}

func versionCmd() *cobra.Command {
	var clientOnly bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print npuctl and device driver/firmware versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			var devices []*npu.Device
			if !clientOnly {
				e, err := loadEnv()
				if err != nil {
					return err
				}
				// A host without NPUs still gets the client version.
				devices, err = e.registry.ListDevicesContext(cmd.Context())
				if err != nil {
					e.logger.Warn("device versions unavailable", slog.String("error", err.Error()))
				}
			}
			info := newVersionInfo(devices)

			if outputFormat == "json" {
				return outputJSON(os.Stdout, info)
			}
			outputVersion(os.Stdout, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clientOnly, "client", false, "Print only the npuctl version")

	return cmd
}

func newVersionInfo(devices []*npu.Device) versionInfo {
	info := versionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Devices:   make([]deviceVersion, 0, len(devices)),
	}
	for _, d := range devices {
		info.Devices = append(info.Devices, deviceVersion{
			Name:            d.Name(),
			Arch:            d.Arch().String(),
			FirmwareVersion: d.FirmwareVersion(),
			DriverVersion:   d.DriverVersion(),
		})
	}
	return info
}

func outputVersion(w io.Writer, info versionInfo) {
	fmt.Fprintf(w, "npuctl version %s (%s, built %s)\n", info.Version, info.Commit, info.BuildDate)
	fmt.Fprintf(w, "  go version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "  platform:   %s\n", info.Platform)
	if len(info.Devices) == 0 {
		return
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.Append([]string{"Device", "Arch", "Firmware", "Driver"})
	for _, d := range info.Devices {
		table.Append([]string{d.Name, d.Arch, d.FirmwareVersion, d.DriverVersion})
	}
	table.Render()
}

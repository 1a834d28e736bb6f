package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
	"github.com/NavarchProject/npudev/pkg/selector"
)

type deviceView struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	Arch            string `json:"arch"`
	Serial          string `json:"serial"`
	UUID            string `json:"uuid"`
	FirmwareVersion string `json:"firmware_version"`
	DriverVersion   string `json:"driver_version"`
	BusName         string `json:"bus_name"`
	PCIDev          string `json:"pci_dev"`
	Cores           int    `json:"cores"`
	Alive           *bool  `json:"alive,omitempty"`
}

func newDeviceView(d *npu.Device) deviceView {
	v := deviceView{
		Index:           d.Index(),
		Name:            d.Name(),
		Arch:            d.Arch().String(),
		Serial:          d.Serial(),
		UUID:            d.UUID(),
		FirmwareVersion: d.FirmwareVersion(),
		DriverVersion:   d.DriverVersion(),
		BusName:         d.BusName(),
		PCIDev:          d.PCIDev(),
		Cores:           d.CoreNum(),
	}
	if alive, err := d.Alive(); err == nil {
		v.Alive = &alive
	}
	return v
}

func listCmd() *cobra.Command {
	var expr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List NPU devices",
		Example: `  npuctl list
  npuctl list --selector 'device.arch == "rngd"'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}

			devices, err := e.devices(cmd.Context(), nil)
			if err != nil {
				return err
			}

			if expr == "" {
				expr = e.cfg.Selector
			}
			sel, err := selector.Compile(expr)
			if err != nil {
				return err
			}
			devices, err = sel.Filter(devices)
			if err != nil {
				e.logger.Warn("selector failed on some devices", slog.String("error", err.Error()))
			}

			views := make([]deviceView, 0, len(devices))
			for _, d := range devices {
				views = append(views, newDeviceView(d))
			}

			if outputFormat == "json" {
				return outputJSON(os.Stdout, views)
			}
			if len(views) == 0 {
				fmt.Println("No devices found")
				return nil
			}
			outputDeviceTable(os.Stdout, views)
			return nil
		},
	}

	cmd.Flags().StringVar(&expr, "selector", "", "CEL expression over `device` restricting the listed devices")

	return cmd
}

func outputDeviceTable(w io.Writer, views []deviceView) {
	table := tablewriter.NewWriter(w)
	table.Append([]string{"Name", "Arch", "Cores", "Serial", "UUID", "Firmware", "Driver", "PCI Bus", "Status"})

	for _, v := range views {
		status := "Unknown"
		if v.Alive != nil {
			status = formatAlive(*v.Alive, nil)
		}
		table.Append([]string{
			v.Name,
			v.Arch,
			strconv.Itoa(v.Cores),
			v.Serial,
			v.UUID,
			v.FirmwareVersion,
			v.DriverVersion,
			v.BusName,
			status,
		})
	}

	table.Render()
}

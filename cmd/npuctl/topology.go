package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

type topologyView struct {
	Devices  []string         `json:"devices"`
	BusNames []string         `json:"bus_names"`
	Links    [][]npu.LinkType `json:"links"`
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology [device...]",
		Short: "Show how devices are connected on the PCI fabric",
		Long: `Print a matrix of the link between every pair of devices: soc (same chip),
host_bridge (same PCIe host bridge), cpu (same CPU package) or interconnect
(different CPU packages).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}

			devices, err := e.devices(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices found")
				return nil
			}

			topo, err := npu.ReadTopologyContext(cmd.Context(), devices)
			if err != nil {
				if topo == nil {
					return err
				}
				e.logger.Warn("some links are unknown", slog.String("error", err.Error()))
			}

			view := newTopologyView(devices, topo)
			if outputFormat == "json" {
				return outputJSON(os.Stdout, view)
			}
			outputTopology(os.Stdout, view)
			return nil
		},
	}
}

func newTopologyView(devices []*npu.Device, topo *npu.Topology) topologyView {
	v := topologyView{
		Devices:  make([]string, len(devices)),
		BusNames: make([]string, len(devices)),
		Links:    make([][]npu.LinkType, len(devices)),
	}
	for i, a := range devices {
		v.Devices[i] = a.Name()
		v.BusNames[i] = a.BusName()
		v.Links[i] = make([]npu.LinkType, len(devices))
		for j, b := range devices {
			v.Links[i][j] = topo.Between(a, b)
		}
	}
	return v
}

func outputTopology(w io.Writer, v topologyView) {
	table := tablewriter.NewWriter(w)
	table.Append(append([]string{"Device"}, v.Devices...))
	for i, row := range v.Links {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, v.Devices[i])
		for _, l := range row {
			cells = append(cells, l.String())
		}
		table.Append(cells)
	}
	table.Render()
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

type fileView struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Mode  string `json:"mode"`
	Cores string `json:"cores"`
}

type deviceDetails struct {
	deviceView
	SocUID      string               `json:"soc_uid"`
	Heartbeat   *uint32              `json:"heartbeat,omitempty"`
	NUMANode    *int                 `json:"numa_node,omitempty"`
	Clocks      []npu.ClockFrequency `json:"clocks,omitempty"`
	ErrorStates []npu.Pair           `json:"error_states,omitempty"`
	Files       []fileView           `json:"device_files"`
	CoreStatus  map[int]string       `json:"core_status,omitempty"`
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <device>",
		Short: "Show details of one device",
		Args:  cobra.ExactArgs(1),
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

			details, err := collectDetails(devices[0])
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return outputJSON(os.Stdout, details)
			}
			outputDeviceDetails(os.Stdout, details)
			return nil
		},
	}

	return cmd
}

// collectDetails reads every dynamic attribute. Only device file
// enumeration is fatal; the rest is shown when readable.
func collectDetails(d *npu.Device) (deviceDetails, error) {
	out := deviceDetails{
		deviceView: newDeviceView(d),
		SocUID:     d.SocUID(),
	}

	files, err := d.DeviceFiles()
	if err != nil {
		return out, fmt.Errorf("failed to list device files: %w", err)
	}
	for _, f := range files {
		out.Files = append(out.Files, fileView{
			Name:  f.Name(),
			Path:  f.Path,
			Mode:  f.Mode.String(),
			Cores: f.CoreRange.String(),
		})
	}

	if hb, err := d.Heartbeat(); err == nil {
		out.Heartbeat = &hb
	}
	if node, err := d.NUMANode(); err == nil {
		out.NUMANode = &node
	}
	if clocks, err := d.ClockFrequencies(); err == nil {
		out.Clocks = clocks
	}
	if states, err := d.ErrorStates(); err == nil {
		out.ErrorStates = states
	}
	if statuses, err := d.AllCoreStatus(); err == nil {
		out.CoreStatus = make(map[int]string, len(statuses))
		for core, st := range statuses {
			out.CoreStatus[core] = st.String()
		}
	}
	return out, nil
}

func outputDeviceDetails(w io.Writer, d deviceDetails) {
	status := "Unknown"
	if d.Alive != nil {
		status = formatAlive(*d.Alive, nil)
	}
	fmt.Fprintf(w, "Name:          %s\n", d.Name)
	fmt.Fprintf(w, "Arch:          %s (%d cores)\n", d.Arch, d.Cores)
	fmt.Fprintf(w, "Status:        %s\n", status)
	fmt.Fprintf(w, "Serial:        %s\n", d.Serial)
	fmt.Fprintf(w, "UUID:          %s\n", d.UUID)
	fmt.Fprintf(w, "SoC UID:       %s\n", orDash(d.SocUID))
	fmt.Fprintf(w, "Firmware:      %s\n", d.FirmwareVersion)
	fmt.Fprintf(w, "Driver:        %s\n", d.DriverVersion)
	fmt.Fprintf(w, "PCI Bus:       %s (dev %s)\n", d.BusName, d.PCIDev)
	if d.NUMANode != nil {
		fmt.Fprintf(w, "NUMA Node:     %d\n", *d.NUMANode)
	}
	if d.Heartbeat != nil {
		fmt.Fprintf(w, "Heartbeat:     %d\n", *d.Heartbeat)
	}

	if len(d.Clocks) > 0 {
		fmt.Fprintf(w, "\nClocks:\n")
		for _, c := range d.Clocks {
			fmt.Fprintf(w, "  %-16s %d %s\n", c.Name, c.Value, c.Unit)
		}
	}

	if len(d.ErrorStates) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, p := range d.ErrorStates {
			fmt.Fprintf(w, "  %-24s %d\n", p.Label, p.Value)
		}
	}

	fmt.Fprintf(w, "\nDevice Files:\n")
	for _, f := range d.Files {
		fmt.Fprintf(w, "  %-12s %-10s cores %-4s %s\n", f.Name, f.Mode, f.Cores, f.Path)
	}

	if len(d.CoreStatus) > 0 {
		fmt.Fprintf(w, "\nCores:\n")
		for core := 0; core < d.Cores; core++ {
			if st, ok := d.CoreStatus[core]; ok {
				fmt.Fprintf(w, "  %d: %s\n", core, st)
			}
		}
	}
}

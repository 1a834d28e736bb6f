package main

import (
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

type coreView struct {
	Device string `json:"device"`
	Core   int    `json:"core"`
	State  string `json:"state"`
	Holder string `json:"holder,omitempty"`
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [device...]",
		Short: "Show which cores are available, occupied or unavailable",
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

			var cores []coreView
			var states []npu.CoreState
			for _, d := range devices {
				statuses, err := d.AllCoreStatusContext(cmd.Context())
				if err != nil {
					e.logger.Warn("core status incomplete",
						slog.String("device", d.Name()),
						slog.String("error", err.Error()))
				}
				indices := make([]int, 0, len(statuses))
				for core := range statuses {
					indices = append(indices, core)
				}
				sort.Ints(indices)
				for _, core := range indices {
					st := statuses[core]
					cores = append(cores, coreView{
						Device: d.Name(),
						Core:   core,
						State:  st.State.String(),
						Holder: st.Holder,
					})
					states = append(states, st.State)
				}
			}

			if outputFormat == "json" {
				return outputJSON(os.Stdout, cores)
			}
			if len(cores) == 0 {
				pterm.Info.Println("No devices found")
				return nil
			}

			data := pterm.TableData{{"Device", "Core", "State", "Holder"}}
			for i, c := range cores {
				data = append(data, []string{c.Device, strconv.Itoa(c.Core), colorState(states[i]), orDash(c.Holder)})
			}
			return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
		},
	}

	return cmd
}

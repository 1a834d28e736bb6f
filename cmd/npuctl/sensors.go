package main

import (
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

var sensorTypes = []npu.SensorType{
	npu.SensorTemperature,
	npu.SensorPower,
	npu.SensorVoltage,
	npu.SensorCurrent,
}

type sensorView struct {
	Device string         `json:"device"`
	Type   npu.SensorType `json:"type"`
	Label  string         `json:"label"`
	Value  int64          `json:"value"`
}

func sensorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sensors [device...]",
		Aliases: []string{"hwmon"},
		Short:   "Show temperature, power, voltage and current sensors",
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

			var views []sensorView
			for _, d := range devices {
				fetcher := npu.NewSensorFetcher(d)
				for _, t := range sensorTypes {
					values, err := fetcher.ReadContext(cmd.Context(), t)
					if err != nil {
						e.logger.Warn("sensor read failed",
							slog.String("device", d.Name()),
							slog.String("type", string(t)),
							slog.String("error", err.Error()))
					}
					for _, v := range values {
						views = append(views, sensorView{Device: d.Name(), Type: t, Label: v.Label, Value: v.Value})
					}
				}
			}

			if outputFormat == "json" {
				return outputJSON(os.Stdout, views)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Append([]string{"Device", "Type", "Sensor", "Value"})
			for _, v := range views {
				table.Append([]string{v.Device, sensorTypeName(v.Type), v.Label, formatSensor(v.Type, v.Value)})
			}
			table.Render()
			return nil
		},
	}

	return cmd
}

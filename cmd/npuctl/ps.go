package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/npu"
)

func psCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes holding device files open",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			scanner, err := npu.NewProcessScanner(e.cfg.Paths.Procfs, e.cfg.Paths.Devfs, e.logger)
			if err != nil {
				return err
			}
			procs, err := scanner.Scan()
			if err != nil {
				return fmt.Errorf("failed to scan processes: %w", err)
			}

			if outputFormat == "json" {
				return outputJSON(os.Stdout, procs)
			}
			if len(procs) == 0 {
				fmt.Println("No processes found")
				return nil
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.Append([]string{"Device File", "PID", "Command"})
			for _, p := range procs {
				table.Append([]string{p.DeviceFile, strconv.Itoa(p.PID), p.Cmdline})
			}
			table.Render()
			return nil
		},
	}

	return cmd
}

package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/NavarchProject/npudev/pkg/health"
)

func healthCmd() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "health [device...]",
		Short: "Evaluate the device health policy",
		Long: `Evaluate each device against the health policy and report whether it is
healthy, degraded or unhealthy. The policy is read from --policy, then the
health_policy config key, then the built-in default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(); err != nil {
				return err
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if policyPath != "" {
				e.cfg.HealthPolicy = policyPath
			}
			policy, err := e.cfg.LoadHealthPolicy()
			if err != nil {
				return err
			}
			evaluator, err := health.NewEvaluator(policy)
			if err != nil {
				return err
			}

			devices, err := e.devices(cmd.Context(), args)
			if err != nil {
				return err
			}

			evals := make([]health.Evaluation, 0, len(devices))
			for _, d := range devices {
				eval, err := evaluator.EvaluateDevice(cmd.Context(), d)
				if err != nil {
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					e.logger.Warn("incomplete health snapshot",
						slog.String("device", d.Name()),
						slog.String("error", err.Error()))
				}
				evals = append(evals, eval)
			}

			if outputFormat == "json" {
				return outputJSON(os.Stdout, evals)
			}
			outputHealth(os.Stdout, evals)
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to a health policy file")
	return cmd
}

func outputHealth(w io.Writer, evals []health.Evaluation) {
	table := tablewriter.NewWriter(w)
	table.Append([]string{"Device", "Status", "Rule", "Matches"})
	for _, ev := range evals {
		table.Append([]string{
			ev.Device,
			colorHealth(ev.Status),
			orDash(ev.Rule),
			orDash(strings.Join(ev.Matches, ", ")),
		})
	}
	table.Render()
}

func colorHealth(r health.Result) string {
	switch r {
	case health.ResultHealthy:
		return pterm.Green(string(r))
	case health.ResultDegraded:
		return pterm.Yellow(string(r))
	default:
		return pterm.Red(string(r))
	}
}

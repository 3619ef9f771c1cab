package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vecto-labs/triad-cli/internal/observability"
)

var (
	metricsWindow     int
	metricsBaseline   int
	metricsPrometheus bool
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print an observability summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		monitor, closeFn, err := initMonitor(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if metricsPrometheus {
			text, err := monitor.PrometheusText(ctx, metricsWindow)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		}

		summary, err := monitor.Summary(ctx, metricsWindow)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare current metrics against the baseline window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		monitor, closeFn, err := initMonitor(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := monitor.DetectDrift(ctx, metricsWindow, metricsBaseline)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var slaCmd = &cobra.Command{
	Use:   "sla",
	Short: "Check SLA compliance over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		monitor, closeFn, err := initMonitor(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := monitor.CheckSLA(ctx, metricsBaseline)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

// initMonitor opens the ledger and builds a monitor for one-shot commands.
func initMonitor(ctx context.Context) (*observability.Monitor, func(), error) {
	led, err := initLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := led.Migrate(ctx); err != nil {
		_ = led.Close()
		return nil, nil, eris.Wrap(err, "migrate ledger")
	}
	alerter := observability.NewAlerter(cfg.Observability.WebhookURL)
	monitor := observability.NewMonitor(led, cfg.Observability, alerter)
	return monitor, func() { _ = led.Close() }, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{metricsCmd, driftCmd, slaCmd} {
		c.Flags().IntVar(&metricsWindow, "window", 60, "current window in minutes")
		c.Flags().IntVar(&metricsBaseline, "baseline", 1440, "baseline window in minutes")
	}
	metricsCmd.Flags().BoolVar(&metricsPrometheus, "prometheus", false, "emit Prometheus text format")
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(slaCmd)
}

package main

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/model"
)

var (
	exportOutput   string
	exportCallType string
	exportSince    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export successful model calls as JSONL training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		led, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck

		if err := led.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		filter := ledger.ExportFilter{CallType: model.CallType(exportCallType)}
		if exportSince != "" {
			ts, err := time.Parse(time.RFC3339, exportSince)
			if err != nil {
				return eris.Wrap(err, "parse --since")
			}
			filter.Since = ts
		}

		var out io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		n, err := led.ExportCalls(ctx, out, filter)
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.Int("records", n),
			zap.String("output", exportOutput),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportCallType, "call-type", "", "filter by call type (strategist, planner, validator)")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "only calls after this RFC3339 timestamp")
	rootCmd.AddCommand(exportCmd)
}

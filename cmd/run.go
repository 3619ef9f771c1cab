package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/model"
)

var runContextFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run from a context file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(runContextFile)
		if err != nil {
			return eris.Wrap(err, "read context file")
		}
		var rc model.RideContext
		if err := json.Unmarshal(data, &rc); err != nil {
			return eris.Wrap(err, "parse context file")
		}

		env, err := initTriad(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Orchestrator.Execute(ctx, rc)
		if err != nil {
			return err
		}

		if outcome.Failure != nil {
			zap.L().Warn("pipeline run failed",
				zap.String("job_id", outcome.JobID),
				zap.String("stage", string(outcome.Failure.Stage)),
			)
			out, merr := json.MarshalIndent(outcome.Failure, "", "  ")
			if merr != nil {
				return eris.Wrap(merr, "marshal failure")
			}
			fmt.Println(string(out))
			return nil
		}

		out, err := json.MarshalIndent(outcome.Plan, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal plan")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runContextFile, "context", "", "path to context JSON file (required)")
	_ = runCmd.MarkFlagRequired("context")
	rootCmd.AddCommand(runCmd)
}

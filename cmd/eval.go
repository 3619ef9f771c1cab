package main

import (
	"github.com/spf13/cobra"

	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/eval"
)

var (
	evalSuiteFile   string
	evalProvider    string
	evalModel       string
	evalDataset     string
	evalSampleLimit int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a model against a validation dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var suite *eval.Suite
		if evalSuiteFile != "" {
			s, err := eval.LoadSuite(evalSuiteFile)
			if err != nil {
				return err
			}
			suite = s
		} else {
			suite = &eval.Suite{
				DatasetPath:    evalDataset,
				SampleLimit:    evalSampleLimit,
				Concurrency:    cfg.Eval.Concurrency,
				RequestsPerSec: cfg.Eval.RequestsPerSec,
			}
		}

		a, err := stageAdapter(config.StageConfig{
			Provider: evalProvider,
			Model:    evalModel,
		})
		if err != nil {
			return err
		}

		runner := eval.NewRunner(a, cfg.Eval.ResultsDir)
		evaluation, err := runner.Run(ctx, suite)
		if err != nil {
			return err
		}
		return printJSON(evaluation)
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalSuiteFile, "suite", "", "suite definition YAML file")
	evalCmd.Flags().StringVar(&evalProvider, "provider", "", "model provider (required)")
	evalCmd.Flags().StringVar(&evalModel, "model", "", "model name (required)")
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "", "validation JSONL file (required unless --suite)")
	evalCmd.Flags().IntVar(&evalSampleLimit, "limit", 0, "maximum records to evaluate")
	_ = evalCmd.MarkFlagRequired("provider")
	_ = evalCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(evalCmd)
}

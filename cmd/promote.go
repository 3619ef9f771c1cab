package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vecto-labs/triad-cli/internal/model"
	"github.com/vecto-labs/triad-cli/internal/safety"
)

var (
	promoteModelID  string
	promoteFrom     string
	promoteTo       string
	promoteToken    string
	promoteEvalFile string

	rollbackModelID string
	rollbackReason  string

	historyModelID string
	historyLimit   int
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote a model to the next deployment stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		var metrics *model.EvalMetrics
		if promoteEvalFile != "" {
			evaluation, err := loadEvaluationFile(promoteEvalFile)
			if err != nil {
				return err
			}
			metrics = &evaluation.Metrics
		}

		g := safety.NewGuardrails(cfg.Safety)
		promotion, err := g.Promote(cmd.Context(), safety.PromotionRequest{
			ModelID:      promoteModelID,
			From:         safety.Stage(promoteFrom),
			To:           safety.Stage(promoteTo),
			ReleaseToken: promoteToken,
			EvalMetrics:  metrics,
		})
		if err != nil {
			return err
		}
		return printJSON(promotion)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Emergency rollback of a deployed model",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := safety.NewGuardrails(cfg.Safety)
		action, err := g.Rollback(cmd.Context(), rollbackModelID, rollbackReason)
		if err != nil {
			return err
		}
		return printJSON(action)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show deployment history",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := safety.NewGuardrails(cfg.Safety)
		entries, err := g.History(historyModelID, historyLimit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the production release token digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g := safety.NewGuardrails(cfg.Safety)
		return g.SetReleaseToken(args[0])
	},
}

// loadEvaluationFile reads a results file written by the eval runner.
func loadEvaluationFile(path string) (*model.Evaluation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read evaluation file")
	}
	var evaluation model.Evaluation
	if err := json.Unmarshal(data, &evaluation); err != nil {
		return nil, eris.Wrap(err, "parse evaluation file")
	}
	return &evaluation, nil
}

func init() {
	promoteCmd.Flags().StringVar(&promoteModelID, "model", "", "model identifier (required)")
	promoteCmd.Flags().StringVar(&promoteFrom, "from", "", "current stage (required)")
	promoteCmd.Flags().StringVar(&promoteTo, "to", "", "target stage (required)")
	promoteCmd.Flags().StringVar(&promoteToken, "token", "", "release token for production promotion")
	promoteCmd.Flags().StringVar(&promoteEvalFile, "eval-file", "", "evaluation results file")
	_ = promoteCmd.MarkFlagRequired("model")
	_ = promoteCmd.MarkFlagRequired("from")
	_ = promoteCmd.MarkFlagRequired("to")

	rollbackCmd.Flags().StringVar(&rollbackModelID, "model", "", "model identifier (required)")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "rollback reason (required)")
	_ = rollbackCmd.MarkFlagRequired("model")
	_ = rollbackCmd.MarkFlagRequired("reason")

	historyCmd.Flags().StringVar(&historyModelID, "model", "", "filter by model identifier")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum entries")

	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(setTokenCmd)
}

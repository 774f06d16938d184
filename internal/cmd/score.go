package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/scoring"
)

// NewScoreCommand creates the score command
func NewScoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [workflow-id]...",
		Short: "Compute workflow quality scores from stored history",
		Long: `Compute the quality score of each workflow from its execution history and
test results in the analytics store:

  score = 0.4 * success rate + 0.3 * speed + 0.3 * test coverage

where speed falls linearly from 1 at zero to 0 at five minutes of average
duration. Scores are checked against the success-rate and coverage SLAs.
With --store-analysis the store's own quality analysis is shown instead.

Examples:
  sentinel score build deploy
  sentinel score --store-analysis`,
		RunE: runScore,
	}
	cmd.Flags().Bool("store-analysis", false, "Show the store's quality analysis across all workflows")
	cmd.Flags().Bool("fail-on-breach", false, "Exit non-zero when a score breaches an SLA")
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	storeAnalysis, _ := cmd.Flags().GetBool("store-analysis")
	failOnBreach, _ := cmd.Flags().GetBool("fail-on-breach")
	if !storeAnalysis && len(args) == 0 {
		return fmt.Errorf("requires at least one workflow id or --store-analysis")
	}

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	out := cmd.OutOrStdout()

	if storeAnalysis {
		qa, err := env.store.QualityAnalysis(cmd.Context())
		if err != nil {
			return fmt.Errorf("quality analysis: %w", err)
		}
		for _, s := range qa.Workflows {
			printScore(out, s)
		}
		fmt.Fprintf(out, "\n%d workflow(s), average score %.3f\n", len(qa.Workflows), qa.AvgScore)
		return nil
	}

	scorer := scoring.NewScorer(env.store, env.log)
	var breached, missing []string
	for _, id := range args {
		score, err := scorer.Score(cmd.Context(), id)
		if errors.Is(err, scoring.ErrNoData) {
			fmt.Fprintf(out, "%s  no execution history\n", id)
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return err
		}
		printScore(out, score)
		for _, b := range scoring.EvaluateSLA(score, env.cfg.SLA) {
			fmt.Fprintf(out, "      %s %s\n", warnLabel, b)
			breached = append(breached, id)
		}
	}

	if len(missing) == len(args) {
		return fmt.Errorf("no execution history for %s", strings.Join(missing, ", "))
	}
	if failOnBreach && len(breached) > 0 {
		return fmt.Errorf("SLA breached by %s", strings.Join(dedupe(breached), ", "))
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

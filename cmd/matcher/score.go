package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/grant-matcher/internal/matching"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score programs for a stored company profile",
	Long: `Evaluate eligibility and compute calibrated match scores for one or more programs.
A single program is scored directly; several programs go through the paced batch path.`,
	RunE: runScore,
}

var (
	scoreProfileID  string
	scoreProgramIDs []string
	scoreDocuments  []string
)

func init() {
	scoreCmd.Flags().StringVarP(&scoreProfileID, "profile-id", "p", "", "Company profile ID (required)")
	scoreCmd.Flags().StringSliceVar(&scoreProgramIDs, "program-id", nil, "Program ID to score; repeat or comma-separate for several (required)")
	scoreCmd.Flags().StringArrayVarP(&scoreDocuments, "document", "d", nil, "Path to a supporting document excerpt; may be repeated")

	if err := scoreCmd.MarkFlagRequired("profile-id"); err != nil {
		panic(fmt.Sprintf("failed to mark profile-id flag as required: %v", err))
	}
	if err := scoreCmd.MarkFlagRequired("program-id"); err != nil {
		panic(fmt.Sprintf("failed to mark program-id flag as required: %v", err))
	}

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	docs, err := readDocuments(scoreDocuments)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), appOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(scoreProgramIDs) == 1 {
		match, _, err := a.engine.Score(cmd.Context(), cliIdentity, matching.ScoreRequest{
			ProfileID: scoreProfileID,
			ProgramID: scoreProgramIDs[0],
			Documents: docs,
		})
		if err != nil {
			return err
		}
		if pr := printer(cmd); pr != nil {
			pr.PrintMatch(match)
		}
		return writeJSON(cmd.OutOrStdout(), match)
	}

	results, _, err := a.engine.ScoreBatch(cmd.Context(), cliIdentity, matching.BatchRequest{
		ProfileID:  scoreProfileID,
		ProgramIDs: scoreProgramIDs,
		Documents:  docs,
	})
	if err != nil {
		return err
	}
	if pr := printer(cmd); pr != nil {
		pr.PrintBatch(results)
	}
	return writeJSON(cmd.OutOrStdout(), batchOutput(results))
}

type batchLine struct {
	ProgramID string          `json:"program_id"`
	Match     *matching.Match `json:"match,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func batchOutput(results []matching.BatchResult) []batchLine {
	lines := make([]batchLine, len(results))
	for i, r := range results {
		lines[i] = batchLine{ProgramID: r.ProgramID, Match: r.Match}
		if r.Err != nil {
			lines[i].Error = r.Err.Error()
		}
	}
	return lines
}

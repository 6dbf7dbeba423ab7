package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/grant-matcher/internal/matching"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Rank programs with hybrid retrieval",
	Long: `Rank the program catalog for a free-text query and/or a stored profile using
semantic and keyword retrieval fused by reciprocal rank. With --score-top the
first programs are also scored for the profile.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

var (
	searchProfileID     string
	searchLimit         int
	searchScoreTop      int
	searchExcludeClosed bool
)

func init() {
	searchCmd.Flags().StringVarP(&searchProfileID, "profile-id", "p", "", "Company profile ID for eligibility and scoring")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Number of programs to return (default 20)")
	searchCmd.Flags().IntVar(&searchScoreTop, "score-top", 0, "Score the first N ranked programs (requires --profile-id)")
	searchCmd.Flags().BoolVar(&searchExcludeClosed, "exclude-closed", false, "Drop programs whose deadline has passed")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := matching.RankRequest{
		ProfileID:     searchProfileID,
		Limit:         searchLimit,
		ScoreTop:      searchScoreTop,
		ExcludeClosed: searchExcludeClosed,
	}
	if len(args) == 1 {
		req.Query = args[0]
	}
	if req.Query == "" && req.ProfileID == "" {
		return errors.New("a query or --profile-id is required")
	}
	if req.ScoreTop > 0 && req.ProfileID == "" {
		return fmt.Errorf("--score-top requires --profile-id")
	}

	a, err := newApp(cmd.Context(), appOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, _, err := a.engine.Rank(cmd.Context(), cliIdentity, req)
	if err != nil {
		return err
	}
	if pr := printer(cmd); pr != nil {
		pr.PrintRanking(result)
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

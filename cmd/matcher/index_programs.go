package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var indexProgramsCmd = &cobra.Command{
	Use:   "index-programs",
	Short: "Embed the program catalog into the vector store",
	Long:  "Load every program from the database, embed its title, category, support type and summary, and upsert it into Qdrant for semantic retrieval. Programs past their deadline are removed from the index.",
	RunE:  runIndexPrograms,
}

var indexBatchSize int

func init() {
	indexProgramsCmd.Flags().IntVar(&indexBatchSize, "batch-size", 32, "Programs embedded and upserted per request")
	rootCmd.AddCommand(indexProgramsCmd)
}

func runIndexPrograms(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), appOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.indexer == nil {
		return errors.New("QDRANT_GRPC_URL is required to index programs")
	}

	programs, err := a.db.ListPrograms(cmd.Context())
	if err != nil {
		return err
	}

	result, err := a.indexer.IndexPrograms(cmd.Context(), programs, indexBatchSize)
	if err != nil {
		return fmt.Errorf("indexed %d programs before failing: %w", result.Indexed, err)
	}
	a.logger.Info("program indexing complete",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"removed", result.Removed)
	return writeJSON(cmd.OutOrStdout(), map[string]int{
		"indexed": result.Indexed,
		"skipped": result.Skipped,
		"removed": result.Removed,
	})
}

package main

import (
	"github.com/spf13/cobra"
)

var recalibrateCmd = &cobra.Command{
	Use:   "recalibrate",
	Short: "Recompute the feedback offset once",
	Long: `Read the most recent feedback window, compute the calibration offset and publish it
to the shared offset store. Intended for cron-style deployments that run the job out of process.`,
	RunE: runRecalibrate,
}

func init() {
	rootCmd.AddCommand(recalibrateCmd)
}

func runRecalibrate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.recalibrator.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	if pr := printer(cmd); pr != nil {
		pr.PrintRecalibration(summary)
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}

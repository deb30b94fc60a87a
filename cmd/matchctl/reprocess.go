package main

import (
	"github.com/spf13/cobra"
)

var (
	reprocessAll   bool
	reprocessLimit int
)

func init() {
	reprocessCmd.Flags().BoolVar(&reprocessAll, "all", false, "recompute jobs that already have results")
	reprocessCmd.Flags().IntVar(&reprocessLimit, "limit", 100, "maximum number of jobs to process")
	rootCmd.AddCommand(reprocessCmd)
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Recompute matches for stored jobs",
	Long: `Recompute matches, fairness reports and persisted results for stored jobs.

By default only jobs without any persisted results are processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.MatchService.Reprocess(cmd.Context(), reprocessAll, reprocessLimit)
		if err != nil {
			return err
		}
		return outputJSON(summary)
	},
}

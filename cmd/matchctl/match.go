package main

import (
	"github.com/spf13/cobra"

	"equihire-go/internal/model"
)

var (
	matchTopK     int
	matchJobText  string
	matchExplain  []string
	matchFairness bool
)

func init() {
	matchCmd.Flags().IntVar(&matchTopK, "top-k", 0, "number of candidates to select (0 uses the configured default)")
	matchCmd.Flags().StringVar(&matchJobText, "text", "", "job description text (defaults to the stored job)")
	matchCmd.Flags().StringSliceVar(&matchExplain, "explain", nil, "resume ids to explain")
	matchCmd.Flags().BoolVar(&matchFairness, "fairness-only", false, "print only the fairness report")
	rootCmd.AddCommand(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match <job-id>",
	Short: "Rank candidates for a job and print results, fairness report and explanations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if matchFairness {
			report, err := a.MatchService.GetFairnessReport(cmd.Context(), args[0], matchTopK)
			if err != nil {
				return err
			}
			return outputJSON(report)
		}

		resp, err := a.MatchService.ComputeMatches(cmd.Context(), model.MatchRequest{
			JobID:   args[0],
			JobText: matchJobText,
			TopK:    matchTopK,
			Explain: matchExplain,
		})
		if err != nil {
			return err
		}
		return outputJSON(resp)
	},
}

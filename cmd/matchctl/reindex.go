package main

import (
	"github.com/spf13/cobra"
)

var reindexBatch int

func init() {
	reindexCmd.Flags().IntVar(&reindexBatch, "batch", 100, "resumes read per page")
	rootCmd.AddCommand(reindexCmd)
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every stored resume and rebuild the similarity index",
	Long: `Re-embed every resume in the database and upsert it into the configured index.

Run this after changing the embedding model version; vectors from different
model versions are never compared.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Reindex(cmd.Context(), reindexBatch)
		if err != nil {
			return err
		}
		return outputJSON(map[string]interface{}{
			"status":       "ok",
			"indexed":      n,
			"modelVersion": a.Embedder.ModelVersion(),
			"backend":      a.Index.Backend(),
		})
	},
}

package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/pipeline"
)

var (
	searchQuery string
	searchCity  string
	searchRing  int
	searchMax   int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search through the full pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Finder.Endpoint == "" {
			return eris.New("search: finder endpoint is not configured")
		}

		req := pipeline.Request{
			Query:      searchQuery,
			City:       searchCity,
			Ring:       searchRing,
			SessionID:  uuid.NewString(),
			MaxResults: searchMax,
		}

		summary, err := env.Pipeline.Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("search complete",
			zap.Int64("search_id", summary.SearchID),
			zap.Int("found", summary.Found),
			zap.Int("saved", summary.Saved),
			zap.Int("new", summary.New),
			zap.Int("enriched", summary.Enriched),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "search query (required)")
	searchCmd.Flags().StringVar(&searchCity, "city", "", "city to stamp on the results")
	searchCmd.Flags().IntVar(&searchRing, "ring", 0, "distance ring (1=A, 2=B, 3+=C priority)")
	searchCmd.Flags().IntVar(&searchMax, "max-results", 0, "cap candidates (default from config)")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)
}

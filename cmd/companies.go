package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/baza-td/stroyparser/internal/model"
)

var (
	companiesCity     string
	companiesRing     int
	companiesPriority string
	companiesPhone    bool
	companiesEmail    bool
	companiesLimit    int
	companiesOffset   int
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List stored companies as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		f := model.CompanyFilter{
			City:     companiesCity,
			Ring:     companiesRing,
			Priority: model.Priority(companiesPriority),
			Limit:    companiesLimit,
			Offset:   companiesOffset,
		}
		if cmd.Flags().Changed("has-phone") {
			f.HasPhone = &companiesPhone
		}
		if cmd.Flags().Changed("has-email") {
			f.HasEmail = &companiesEmail
		}

		records, err := st.ListCompanies(ctx, f)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print database counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	companiesCmd.Flags().StringVar(&companiesCity, "city", "", "filter by city")
	companiesCmd.Flags().IntVar(&companiesRing, "ring", 0, "filter by ring")
	companiesCmd.Flags().StringVar(&companiesPriority, "priority", "", "filter by priority (A/B/C)")
	companiesCmd.Flags().BoolVar(&companiesPhone, "has-phone", false, "only companies with (or without) phones")
	companiesCmd.Flags().BoolVar(&companiesEmail, "has-email", false, "only companies with (or without) an email")
	companiesCmd.Flags().IntVar(&companiesLimit, "limit", 100, "max rows")
	companiesCmd.Flags().IntVar(&companiesOffset, "offset", 0, "rows to skip")
	rootCmd.AddCommand(companiesCmd)
	rootCmd.AddCommand(statsCmd)
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/seed"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and seed the city table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		cities, err := seed.Load(cfg.Seed.CitiesFile)
		if err != nil {
			return eris.Wrap(err, "load city table")
		}
		if err := seed.Apply(ctx, st, cities); err != nil {
			return eris.Wrap(err, "seed cities")
		}

		zap.L().Info("migration complete",
			zap.String("driver", cfg.Store.Driver),
			zap.Int("cities", len(cities)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

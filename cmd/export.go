package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/export"
	"github.com/baza-td/stroyparser/internal/model"
)

var (
	exportFormat   string
	exportOut      string
	exportCity     string
	exportPriority string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored companies to CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListCompanies(ctx, model.CompanyFilter{
			City:     exportCity,
			Priority: model.Priority(exportPriority),
		})
		if err != nil {
			return err
		}

		switch strings.ToLower(exportFormat) {
		case "csv":
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrap(err, "export: create file")
			}
			defer f.Close()
			if err := export.WriteCSV(f, records); err != nil {
				return err
			}
		case "xlsx":
			if err := export.WriteXLSX(exportOut, records); err != nil {
				return err
			}
		default:
			return eris.Errorf("export: unknown format %q (want csv or xlsx)", exportFormat)
		}

		zap.L().Info("export complete",
			zap.String("file", exportOut),
			zap.Int("companies", len(records)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "companies.csv", "output file path")
	exportCmd.Flags().StringVar(&exportCity, "city", "", "filter by city")
	exportCmd.Flags().StringVar(&exportPriority, "priority", "", "filter by priority (A/B/C)")
	rootCmd.AddCommand(exportCmd)
}

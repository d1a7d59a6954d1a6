package cli

import (
	"github.com/spf13/cobra"

	"power-butler/internal/app"
)

var (
	exportDate string
	exportDir  string
	exportCSV  bool
	exportPNG  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached days as CSV and/or PNG charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts := app.ExportOptions{
			Directory: exportDir,
			CSV:       exportCSV,
			PNG:       exportPNG,
		}

		if exportDate != "" {
			date, err := a.ResolveDate(exportDate)
			if err != nil {
				return err
			}
			opts.Date = &date
		}

		return a.Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDate, "date", "", "Single day to export (default: every cached day)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Output directory (defaults to export.directory)")
	exportCmd.Flags().BoolVar(&exportCSV, "csv", true, "Write hourly CSV")
	exportCmd.Flags().BoolVar(&exportPNG, "png", false, "Write PNG charts")
}

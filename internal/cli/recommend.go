package cli

import (
	"github.com/spf13/cobra"
)

var (
	recommendDate string
	reportDate    string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Compute and send the charging recommendation for one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		date, err := a.ResolveDate(recommendDate)
		if err != nil {
			return err
		}
		return a.Recommend(cmd.Context(), date)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send price and irradiance charts with the expected generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		date, err := a.ResolveDate(reportDate)
		if err != nil {
			return err
		}
		return a.Report(cmd.Context(), date)
	},
}

func init() {
	recommendCmd.Flags().StringVar(&recommendDate, "date", "tomorrow", "Day to plan: today, tomorrow, or YYYY-MM-DD")
	reportCmd.Flags().StringVar(&reportDate, "date", "today", "Day to report: today, tomorrow, or YYYY-MM-DD")
}

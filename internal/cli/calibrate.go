package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"power-butler/internal/app"
)

var (
	calibrateFrom    string
	calibrateTo      string
	calibrateWorkers int
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Derive the solar ratio from historical irradiance and measured generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if calibrateFrom == "" || calibrateTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		a := getApp()
		loc := a.Config.Location()
		from, err := time.ParseInLocation(time.DateOnly, calibrateFrom, loc)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := time.ParseInLocation(time.DateOnly, calibrateTo, loc)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}
		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		return a.Calibrate(cmd.Context(), app.CalibrateOptions{
			From:    from,
			To:      to,
			Workers: calibrateWorkers,
		})
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	calibrateCmd.Flags().StringVar(&calibrateTo, "to", "", "Last day (YYYY-MM-DD, inclusive)")
	calibrateCmd.Flags().IntVar(&calibrateWorkers, "workers", 4, "Number of days fetched concurrently")
}

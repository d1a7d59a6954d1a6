package cli

import (
	"github.com/spf13/cobra"

	"power-butler/internal/app"
)

var runNow bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the nightly recommendation scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{RunNow: runNow})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")
}

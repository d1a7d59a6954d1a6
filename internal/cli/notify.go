package cli

import (
	"github.com/spf13/cobra"
)

var notifyText string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage the notification channel",
}

var notifyLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link the chat that last messaged the bot as recipient",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LinkChat(cmd.Context())
	},
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().NotifyTest(cmd.Context(), notifyText)
	},
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyText, "text", "This is a test recommendation.", "Message text")
	notifyCmd.AddCommand(notifyLinkCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}

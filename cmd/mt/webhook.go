package main

import (
	"errors"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/types"
	"github.com/spf13/cobra"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook operations",
}

var webhookTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a sample notification to the configured webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		fillSecrets()
		n := newNotifier()
		if !n.Enabled() {
			return errors.New("webhook disabled: set webhook.url or run 'mt setup'")
		}

		d := types.Decision{
			Importance:       types.ImportanceStar,
			Notify:           true,
			NotificationText: "Test notification from mt",
		}
		msg := types.Message{
			ID:      "test-message",
			From:    "mt <mt@localhost>",
			Subject: "Webhook test",
		}
		if _, err := n.Notify(cmd.Context(), d, msg); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("Sent %s test notification.", cfg.Webhook.Mode)
		}
		return nil
	},
}

func init() {
	webhookCmd.AddCommand(webhookTestCmd)
	rootCmd.AddCommand(webhookCmd)
}

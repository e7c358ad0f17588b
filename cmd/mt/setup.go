package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/daviddao/mailtriage/internal/auth"
	"github.com/daviddao/mailtriage/internal/credential"
	"github.com/daviddao/mailtriage/internal/display"
	"github.com/spf13/cobra"
)

var setupSkipAuth bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Store secrets in the keyring and authorize Gmail",
	Long: `Prompt for the Gemini API key and webhook URL and store them in the OS
keyring, then run the Gmail OAuth consent flow if no token exists next to
gmail.credentials.

Leave a field empty to keep the stored value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credential.Open()
		if err != nil {
			return err
		}

		var apiKey, webhookURL string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Gemini API key").
					Description("Stored in the keyring as " + credential.KeyGeminiAPIKey).
					EchoMode(huh.EchoModePassword).
					Value(&apiKey),
				huh.NewInput().
					Title("Webhook URL").
					Description("Where urgent-mail notifications are sent (optional)").
					Placeholder("https://example.com/hook").
					Value(&webhookURL).
					Validate(validateWebhookURL),
			),
		)
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return fmt.Errorf("setup form: %w", err)
		}

		saved := 0
		for key, v := range map[string]string{
			credential.KeyGeminiAPIKey: strings.TrimSpace(apiKey),
			credential.KeyWebhookURL:   strings.TrimSpace(webhookURL),
		} {
			if v == "" || credential.IsPlaceholder(v) {
				continue
			}
			if err := creds.Set(key, v); err != nil {
				return err
			}
			saved++
		}
		if !quietFlag {
			display.SuccessMsg("Stored %d secret(s) in the keyring.", saved)
		}

		if setupSkipAuth {
			return nil
		}
		tokenPath := auth.TokenPath(cfg.Gmail.Credentials)
		if _, err := os.Stat(tokenPath); err == nil {
			if !quietFlag {
				display.SuccessMsg("Gmail token found at %s", tokenPath)
			}
			return nil
		}
		if err := auth.Authorize(cmd.Context(), cfg.Gmail.Credentials, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("Gmail authorized, token saved to %s", tokenPath)
		}
		return nil
	},
}

func validateWebhookURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "http") {
		return nil
	}
	return errors.New("must start with http:// or https://")
}

func init() {
	setupCmd.Flags().BoolVar(&setupSkipAuth, "skip-auth", false, "Only store secrets, skip the Gmail consent flow")
	rootCmd.AddCommand(setupCmd)
}

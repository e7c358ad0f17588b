package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/gmail"
	"github.com/spf13/cobra"
)

var gmailMaxResults int

// gmailCmd is the parent command for ad-hoc mailbox inspection.
var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Gmail operations (search, read)",
	Long:  "Search and read Gmail messages with the same credentials mt run uses.",
}

var gmailSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search Gmail messages",
	Long: `Search Gmail messages matching a query.

Uses the same query syntax as Gmail's search box, so it is a quick way to
check what a configured source will return.`,
	Example: `  mt gmail search "is:unread in:inbox"
  mt gmail search "label:Trello newer_than:14d" -n 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		mb, err := openMailbox(cmd.Context())
		if err != nil {
			return err
		}
		results, err := mb.SearchMessages(cmd.Context(), query, int64(gmailMaxResults))
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintf(w, "No messages found matching: %s\n", query)
			return nil
		}
		fmt.Fprintf(w, "Found %d message(s) matching: %s\n\n", len(results), query)
		for i, msg := range results {
			fmt.Fprintf(w, "[%d] ID: %s\n", i+1, msg.ID)
			fmt.Fprintf(w, "    From: %s\n", msg.From)
			fmt.Fprintf(w, "    Subject: %s\n", msg.Subject)
			fmt.Fprintf(w, "    Date: %s\n", msg.Date)
			fmt.Fprintf(w, "    Preview: %s\n\n", display.Truncate(msg.Snippet, 100))
		}
		return nil
	},
}

var gmailReadCmd = &cobra.Command{
	Use:   "read MESSAGE_ID",
	Short: "Read a Gmail message by ID",
	Long:  "Fetch the full content of a message including headers, labels and attachment names.",
	Example: `  mt gmail read 18d5a7b3c4e5f6a7
  mt gmail read 18d5a7b3c4e5f6a7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openMailbox(cmd.Context())
		if err != nil {
			return err
		}
		msg, err := mb.ReadMessage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputMessage(cmd, msg)
	},
}

func outputMessage(cmd *cobra.Command, msg *gmail.FullMessage) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(msg)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "From: %s\n", msg.From)
	fmt.Fprintf(w, "To: %s\n", msg.To)
	if msg.CC != "" {
		fmt.Fprintf(w, "Cc: %s\n", msg.CC)
	}
	fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(w, "Date: %s\n", msg.Date)
	if msg.MessageID != "" {
		fmt.Fprintf(w, "Message-ID: %s\n", msg.MessageID)
	}
	fmt.Fprintf(w, "Labels: %s\n", strings.Join(msg.Labels, ", "))
	if len(msg.Attachments) > 0 {
		fmt.Fprintf(w, "Attachments:\n")
		for _, att := range msg.Attachments {
			fmt.Fprintf(w, "  - %s (%s, %d bytes)\n", att.Filename, att.MimeType, att.Size)
		}
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "%s\n", msg.Body)
	return nil
}

func init() {
	gmailSearchCmd.Flags().IntVarP(&gmailMaxResults, "max-results", "n", 10, "Maximum results to return")

	gmailCmd.AddCommand(gmailSearchCmd)
	gmailCmd.AddCommand(gmailReadCmd)
	rootCmd.AddCommand(gmailCmd)
}

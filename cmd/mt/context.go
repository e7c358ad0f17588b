package main

import (
	"encoding/json"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/types"
	"github.com/spf13/cobra"
)

var contextRefresh bool

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the active context used to ground both model stages",
	Long: `Print the triage context (projects, recent subjects, contacts) and the
drafting context (writing samples, projects).

Served from the cache when fresh; --refresh rebuilds it from the mailbox.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openMailbox(cmd.Context())
		if err != nil {
			return err
		}
		ac := newContextBuilder(mb).Build(cmd.Context(), contextRefresh)
		return printContext(cmd, ac)
	},
}

var refreshContextCmd = &cobra.Command{
	Use:   "refresh-context",
	Short: "Rebuild and cache the active context",
	Long:  "Force a fresh context build so the next run finds a warm cache. Schedule this more often than 'mt run'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openMailbox(cmd.Context())
		if err != nil {
			return err
		}
		ac := newContextBuilder(mb).Build(cmd.Context(), true)
		if jsonOutput {
			return printContext(cmd, ac)
		}
		if !quietFlag {
			display.SuccessMsg("Context refreshed (%d triage chars, %d drafting chars).", len(ac.TriageContext), len(ac.DraftingContext))
		}
		return nil
	},
}

func printContext(cmd *cobra.Command, ac types.ActiveContext) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ac)
	}
	display.Header("Triage context")
	display.Block("", ac.TriageContext)
	display.Header("\nDrafting context")
	display.Block("", ac.DraftingContext)
	return nil
}

func init() {
	contextCmd.Flags().BoolVar(&contextRefresh, "refresh", false, "Rebuild instead of reading the cache")
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(refreshContextCmd)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/runner"
	"github.com/daviddao/mailtriage/internal/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Triage mail that arrived since the last committed run",
	Long: `Fetch new threads from every configured source, classify them with the
triage model, apply labels, stars and notifications, draft replies where
asked, then advance the watermark.

A transport failure talking to Gemini aborts the run and leaves the
watermark where it was, so the next run retries the same window.`,
	Example: `  mt run
  mt run --json
  MAILTRIAGE_ACTIONS_ENABLE_DESTRUCTIVE=true mt run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}

		sum, runErr := p.runner.RunOnce(cmd.Context())
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
			return runErr
		}

		if !quietFlag {
			printSummary(sum)
		}
		if runErr != nil {
			if runner.IsTransport(runErr) {
				display.ErrorMsg("Gemini unreachable, will retry this window next run")
			}
			return runErr
		}
		return nil
	},
}

func printSummary(sum types.RunSummary) {
	switch sum.Outcome {
	case types.OutcomeEmpty:
		display.SuccessMsg("No new mail.")
		return
	case types.OutcomeDeferred:
		display.WarnMsg("Deferred: only %d thread(s), waiting for a larger batch.", sum.Threads)
		return
	case types.OutcomeAborted:
		display.ErrorMsg("Run aborted: %s", sum.Error)
		return
	}
	display.SuccessMsg("Processed %d thread(s): %d decision(s), %d notification(s), %d/%d draft(s).",
		sum.Threads, sum.Decisions, sum.Notifications, sum.DraftsCreated, sum.DraftsRequested)
	display.Items(sum.Items)
	fmt.Println(display.Dim.Render("  run " + sum.RunID))
}

func init() {
	rootCmd.AddCommand(runCmd)
}

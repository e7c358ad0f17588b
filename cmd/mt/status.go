package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daviddao/mailtriage/internal/contextbuilder"
	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/runner"
	"github.com/daviddao/mailtriage/internal/types"
	"github.com/spf13/cobra"
)

type statusReport struct {
	Store        string            `json:"store"`
	StorePath    string            `json:"store_path,omitempty"`
	Watermark    *time.Time        `json:"watermark,omitempty"`
	ContextCache bool              `json:"context_cached"`
	Sources      []string          `json:"sources"`
	Destructive  bool              `json:"destructive_actions"`
	LastRun      *types.RunSummary `json:"last_run,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark, context cache and last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rep := statusReport{
			Store:       cfg.Store.Driver,
			Sources:     cfg.Sources,
			Destructive: cfg.Actions.EnableDestructive,
		}
		if db, ok := store.(*kv.SQLite); ok {
			rep.StorePath = db.Path()
		}

		v, ok, err := store.Get(ctx, runner.WatermarkKey)
		if err != nil {
			return fmt.Errorf("read watermark: %w", err)
		}
		if ok {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(secs, 0)
				rep.Watermark = &t
			}
		}

		_, rep.ContextCache, err = store.Get(ctx, contextbuilder.CacheKey)
		if err != nil {
			return fmt.Errorf("read context cache: %w", err)
		}

		sum, ok, err := runner.LastSummary(ctx, store)
		if err != nil {
			logger.Warn("ignoring unreadable run summary", "error", err)
		}
		if ok {
			rep.LastRun = &sum
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}

		display.Header("mt status")
		display.Field("Store", rep.Store)
		if rep.StorePath != "" {
			display.Field("Store path", rep.StorePath)
		}
		display.Field("Sources", strings.Join(rep.Sources, ", "))
		if rep.Watermark != nil {
			display.Field("Watermark", fmt.Sprintf("%s (%s)", rep.Watermark.Format(time.RFC3339), display.TimeAgo(*rep.Watermark)))
		} else {
			display.Field("Watermark", display.Dim.Render("unset, next run looks back 24h"))
		}
		if rep.ContextCache {
			display.Field("Context", display.Success.Render("cached"))
		} else {
			display.Field("Context", display.Warn.Render("cold, next run rebuilds"))
		}
		if rep.Destructive {
			display.Field("Destructive", display.Warn.Render("enabled"))
		} else {
			display.Field("Destructive", "disabled")
		}

		if rep.LastRun == nil {
			display.Field("Last run", display.TimeAgo(time.Time{}))
			return nil
		}
		lr := rep.LastRun
		fmt.Println()
		display.SubHeader("Last run")
		display.Field("Outcome", display.OutcomeBadge(lr.Outcome))
		display.Field("Started", display.TimeAgo(lr.StartedAt))
		display.Field("Threads", lr.Threads)
		display.Field("Decisions", lr.Decisions)
		display.Field("Notifications", lr.Notifications)
		display.Field("Drafts", fmt.Sprintf("%d/%d", lr.DraftsCreated, lr.DraftsRequested))
		if lr.Error != "" {
			display.Field("Error", display.ErrStyle.Render(lr.Error))
		}
		if len(lr.Items) > 0 {
			fmt.Println()
			display.Items(lr.Items)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

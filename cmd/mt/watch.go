package main

import (
	"context"
	"fmt"
	"time"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/schedule"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the context and run triage on a schedule",
	Long: `Run the context refresh every schedule.context_interval and a triage run
every schedule.run_interval. Jobs run one at a time and never overlap.
Stops on Ctrl-C or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}

		loop, err := schedule.New(logger,
			schedule.Job{
				Name:     "refresh-context",
				Interval: cfg.Schedule.ContextInterval,
				Run: func(ctx context.Context) error {
					p.context.Build(ctx, true)
					return nil
				},
			},
			schedule.Job{
				Name:     "run",
				Interval: cfg.Schedule.RunInterval,
				Run: func(ctx context.Context) error {
					_, err := p.runner.RunOnce(ctx)
					return err
				},
			},
		)
		if err != nil {
			return err
		}

		if !quietFlag {
			display.SuccessMsg("Watching (run every %s, context every %s). Ctrl-C to stop.",
				cfg.Schedule.RunInterval, cfg.Schedule.ContextInterval)
		}
		err = loop.Run(cmd.Context())
		if !quietFlag {
			printJobs(loop.Snapshot())
		}
		return err
	},
}

func printJobs(jobs []schedule.Status) {
	display.Header("\nJobs")
	for _, j := range jobs {
		last := display.TimeAgo(j.LastEndAt)
		if j.LastError != "" {
			last += " " + display.ErrStyle.Render(j.LastError)
		}
		display.Field(j.Name, fmt.Sprintf("%d run(s), last %s (%s)", j.Runs, last, j.LastDuration.Round(time.Millisecond)))
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// Package runner drives one incremental triage run: it reads the watermark,
// fetches new threads, runs both model stages and commits the watermark
// only when neither stage hit a transport failure.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/daviddao/mailtriage/internal/draft"
	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/normalize"
	"github.com/daviddao/mailtriage/internal/triage"
	"github.com/daviddao/mailtriage/internal/types"
)

// Store keys.
const (
	WatermarkKey = "last_processed_timestamp"
	SummaryKey   = "last_run_summary"
)

// ContextSource supplies the active context.
type ContextSource interface {
	Build(ctx context.Context, forceRefresh bool) types.ActiveContext
}

// Options configure a Runner.
type Options struct {
	Sources      []string
	MaxEmails    int
	MinBatchSize int
	MaxWait      time.Duration
	LookbackDays int
	PreviewChars int
	FullChars    int
	Now          func() time.Time
}

// Runner is the run controller. It is not safe for concurrent runs.
type Runner struct {
	mb      mailbox.Mailbox
	store   kv.Store
	context ContextSource
	triage  *triage.Orchestrator
	drafts  *draft.Orchestrator
	opts    Options
	logger  *log.Logger
}

// New creates a Runner.
func New(mb mailbox.Mailbox, store kv.Store, cs ContextSource, t *triage.Orchestrator, d *draft.Orchestrator, opts Options, logger *log.Logger) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PreviewChars == 0 {
		opts.PreviewChars = 500
	}
	if opts.FullChars == 0 {
		opts.FullChars = 4000
	}
	return &Runner{mb: mb, store: store, context: cs, triage: t, drafts: d, opts: opts, logger: logger.WithPrefix("run")}
}

// RunOnce performs one run. The returned summary is also stored under
// SummaryKey. A non-nil error means the watermark was not advanced.
func (r *Runner) RunOnce(ctx context.Context) (types.RunSummary, error) {
	start := r.opts.Now()
	sum := types.RunSummary{RunID: uuid.NewString(), StartedAt: start}
	logger := r.logger.With("run", sum.RunID)

	err := r.run(ctx, start, &sum, logger)
	if err != nil {
		sum.Outcome = types.OutcomeAborted
		sum.Error = err.Error()
		logger.Error("run aborted, watermark unchanged", "error", err)
	}
	sum.FinishedAt = r.opts.Now()
	r.saveSummary(ctx, sum, logger)
	return sum, err
}

func (r *Runner) run(ctx context.Context, start time.Time, sum *types.RunSummary, logger *log.Logger) error {
	watermark, err := r.Watermark(ctx)
	if err != nil {
		return err
	}
	sum.Watermark = watermark.Unix()

	after := watermark
	if r.opts.LookbackDays > 0 {
		if floor := start.AddDate(0, 0, -r.opts.LookbackDays); after.Before(floor) {
			logger.Info("clamping fetch window to lookback", "watermark", watermark.Unix(), "floor", floor.Unix())
			after = floor
		}
	}

	threads, err := r.fetch(ctx, after, logger)
	if err != nil {
		return err
	}
	sum.Threads = len(threads)

	if len(threads) == 0 {
		logger.Info("no new mail")
		sum.Outcome = types.OutcomeEmpty
		return nil
	}
	if r.opts.MinBatchSize > 1 && len(threads) < r.opts.MinBatchSize {
		waited := start.Sub(watermark)
		if r.opts.MaxWait <= 0 || waited < r.opts.MaxWait {
			logger.Info("deferring small batch", "threads", len(threads), "min", r.opts.MinBatchSize, "waited", waited.Round(time.Minute))
			sum.Outcome = types.OutcomeDeferred
			return nil
		}
	}

	active := r.context.Build(ctx, false)
	items, refs := r.batch(threads)
	logger.Info("processing threads", "count", len(items))

	t1, err := r.triage.Run(ctx, active.TriageContext, items, refs)
	sum.Decisions = t1.Decisions
	sum.Notifications = t1.Notifications
	sum.Items = t1.Items
	if err != nil {
		return err
	}

	sum.DraftsRequested = len(t1.Candidates)
	t2, err := r.drafts.Run(ctx, active.DraftingContext, t1.Candidates)
	sum.DraftsCreated = t2.Created
	if err != nil {
		return err
	}

	if err := r.commit(ctx, start); err != nil {
		return err
	}
	sum.Outcome = types.OutcomeCommitted
	sum.Watermark = start.Unix()
	logger.Info("run committed", "watermark", start.Unix())
	return nil
}

// Watermark returns the stored watermark, or 24 hours ago when unset.
func (r *Runner) Watermark(ctx context.Context) (time.Time, error) {
	def := r.opts.Now().Add(-24 * time.Hour)
	v, ok, err := r.store.Get(ctx, WatermarkKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		return def, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("ignoring malformed watermark", "value", v)
		return def, nil
	}
	return time.Unix(secs, 0), nil
}

func (r *Runner) commit(ctx context.Context, start time.Time) error {
	if err := r.store.Set(ctx, WatermarkKey, strconv.FormatInt(start.Unix(), 10), 0); err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}
	return nil
}

// fetch searches every source after the given time, deduplicates by
// thread id and caps the result at MaxEmails.
func (r *Runner) fetch(ctx context.Context, after time.Time, logger *log.Logger) ([]types.Thread, error) {
	seen := make(map[string]bool)
	var out []types.Thread
	for _, src := range r.opts.Sources {
		q := fmt.Sprintf("%s after:%d", src, after.Unix())
		logger.Debug("searching", "query", q)
		threads, err := r.mb.Search(ctx, q, r.opts.MaxEmails)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", src, err)
		}
		for _, t := range threads {
			if seen[t.ID] || len(t.Messages) == 0 {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	if r.opts.MaxEmails > 0 && len(out) > r.opts.MaxEmails {
		out = out[:r.opts.MaxEmails]
	}
	return out, nil
}

// batch builds the model-facing items from each thread's latest message.
func (r *Runner) batch(threads []types.Thread) ([]types.BatchItem, map[string]types.Ref) {
	items := make([]types.BatchItem, 0, len(threads))
	refs := make(map[string]types.Ref, len(threads))
	for i, t := range threads {
		msg, _ := t.Latest()
		id := fmt.Sprintf("msg_%d", i)
		items = append(items, types.BatchItem{
			LocalID:     id,
			From:        msg.From,
			Subject:     msg.Subject,
			BodyPreview: normalize.Clean(msg.PlainBody, r.opts.PreviewChars),
			FullBody:    normalize.Clean(msg.PlainBody, r.opts.FullChars),
			Labels:      t.Labels,
		})
		refs[id] = types.Ref{Thread: t, Message: msg}
	}
	return items, refs
}

func (r *Runner) saveSummary(ctx context.Context, sum types.RunSummary, logger *log.Logger) {
	data, err := json.Marshal(sum)
	if err == nil {
		err = r.store.Set(ctx, SummaryKey, string(data), 0)
	}
	if err != nil {
		logger.Warn("failed to store run summary", "error", err)
	}
}

// LastSummary returns the stored summary of the previous run.
func LastSummary(ctx context.Context, store kv.Store) (types.RunSummary, bool, error) {
	var sum types.RunSummary
	v, ok, err := store.Get(ctx, SummaryKey)
	if err != nil || !ok {
		return sum, false, err
	}
	if err := json.Unmarshal([]byte(v), &sum); err != nil {
		return sum, false, fmt.Errorf("decode run summary: %w", err)
	}
	return sum, true, nil
}

// IsTransport reports whether err aborted a run because the model was
// unreachable.
func IsTransport(err error) bool {
	return errors.Is(err, llm.ErrTransport)
}

// Package triage runs the first model stage: it classifies a batch and
// applies the resulting labels, stars and webhook calls to the mailbox.
package triage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/prompts"
	"github.com/daviddao/mailtriage/internal/types"
)

// Gateway is the model call used by both stages.
type Gateway interface {
	Invoke(ctx context.Context, model, systemPrompt, userPrompt string) (map[string]json.RawMessage, error)
}

// Notifier delivers notify decisions.
type Notifier interface {
	Notify(ctx context.Context, d types.Decision, msg types.Message) (bool, error)
}

// Labels maps the taxonomy to mailbox label names.
type Labels map[types.LabelName]string

// Options configure an Orchestrator.
type Options struct {
	Model string
	// SystemPrompt replaces prompts.Triage when non-empty.
	SystemPrompt      string
	EnableDestructive bool
	Labels            Labels
}

// Result summarizes one stage 1 pass.
type Result struct {
	Decisions     int
	Applied       int
	Failed        int
	Notifications int
	Candidates    []types.DraftCandidate
	// Items holds one entry per applied or failed decision, in batch order.
	Items []types.ItemOutcome
}

// rule is the per-importance entry of the action table. destructive runs
// only when destructive actions are enabled and then ends the item.
type rule struct {
	label       types.LabelName
	star        bool
	destructive func(ctx context.Context, mb mailbox.Mailbox, threadID string) error
}

var rules = map[types.Importance]rule{
	types.ImportanceArchive: {
		label: types.LabelArchive,
		destructive: func(ctx context.Context, mb mailbox.Mailbox, threadID string) error {
			if err := mb.MarkRead(ctx, threadID); err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
			if err := mb.Archive(ctx, threadID); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			return nil
		},
	},
	types.ImportanceBlock: {
		label: types.LabelBlock,
		destructive: func(ctx context.Context, mb mailbox.Mailbox, threadID string) error {
			if err := mb.Trash(ctx, threadID); err != nil {
				return fmt.Errorf("trash: %w", err)
			}
			return nil
		},
	},
	types.ImportanceStar:    {label: types.LabelStar, star: true},
	types.ImportanceUnsure:  {label: types.LabelUnsure},
	types.ImportanceNeither: {},
}

// Orchestrator is stage 1.
type Orchestrator struct {
	mb       mailbox.Mailbox
	gw       Gateway
	notifier Notifier
	opts     Options
	logger   *log.Logger
}

// New creates an Orchestrator. notifier may be nil.
func New(mb mailbox.Mailbox, gw Gateway, notifier Notifier, opts Options, logger *log.Logger) *Orchestrator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompts.Triage
	}
	return &Orchestrator{mb: mb, gw: gw, notifier: notifier, opts: opts, logger: logger.WithPrefix("triage")}
}

// Run classifies items and applies the decisions in batch order. refs
// resolves each item's LocalID; decisions for unknown ids are dropped.
// The only error returned wraps llm.ErrTransport.
func (o *Orchestrator) Run(ctx context.Context, triageContext string, items []types.BatchItem, refs map[string]types.Ref) (Result, error) {
	var res Result
	if len(items) == 0 {
		return res, nil
	}

	raw, err := o.gw.Invoke(ctx, o.opts.Model, o.opts.SystemPrompt, prompts.TriageUser(triageContext, items))
	if err != nil {
		return res, fmt.Errorf("stage 1: %w", err)
	}
	decisions := llm.ParseDecisions(raw, o.logger)
	res.Decisions = len(decisions)
	if len(decisions) == 0 {
		o.logger.Warn("no decisions returned", "items", len(items))
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.LocalID] = true
		d, ok := decisions[item.LocalID]
		if !ok {
			continue
		}
		ref, ok := refs[item.LocalID]
		if !ok {
			o.logger.Warn("dropping decision without thread", "id", item.LocalID)
			continue
		}

		rec := types.ItemOutcome{
			ThreadID:   ref.Thread.ID,
			From:       ref.Message.From,
			Subject:    ref.Message.Subject,
			Importance: d.Importance,
		}
		out, err := o.apply(ctx, d, ref)
		if err != nil {
			res.Failed++
			rec.Failed = true
			res.Items = append(res.Items, rec)
			o.logger.Error("action failed", "id", item.LocalID, "thread", ref.Thread.ID, "error", err)
			continue
		}
		rec.Notified, rec.Draft = out.notified, out.draft
		res.Items = append(res.Items, rec)
		res.Applied++
		if out.notified {
			res.Notifications++
		}
		if out.draft {
			res.Candidates = append(res.Candidates, types.DraftCandidate{Item: item, Ref: ref})
		}
	}
	for id := range decisions {
		if !known[id] {
			o.logger.Warn("dropping decision for unknown id", "id", id)
		}
	}

	o.logger.Info("stage 1 complete",
		"items", len(items), "decisions", res.Decisions, "applied", res.Applied,
		"failed", res.Failed, "notifications", res.Notifications, "drafts", len(res.Candidates))
	return res, nil
}

type outcome struct {
	notified bool
	draft    bool
}

// apply runs the action table for one decision.
func (o *Orchestrator) apply(ctx context.Context, d types.Decision, ref types.Ref) (outcome, error) {
	var out outcome
	threadID, msg := ref.Thread.ID, ref.Message
	starred := false
	star := func() error {
		if starred {
			return nil
		}
		if err := o.mb.Star(ctx, msg.ID); err != nil {
			return fmt.Errorf("star: %w", err)
		}
		starred = true
		return nil
	}

	r, ok := rules[d.Importance]
	if !ok {
		r = rules[types.ImportanceNeither]
	}
	if r.label != "" {
		if err := o.label(ctx, threadID, r.label); err != nil {
			return out, err
		}
	}
	if r.destructive != nil && o.opts.EnableDestructive {
		if err := r.destructive(ctx, o.mb, threadID); err != nil {
			return out, err
		}
		o.logger.Info("destructive action applied", "thread", threadID, "importance", d.Importance)
		return out, nil
	}
	if r.star {
		if err := star(); err != nil {
			return out, err
		}
	}

	if d.Notify {
		if err := o.label(ctx, threadID, types.LabelNotify); err != nil {
			return out, err
		}
		if err := star(); err != nil {
			return out, err
		}
		out.notified = o.notify(ctx, d, msg)
	}

	if d.DraftReply {
		if err := o.label(ctx, threadID, types.LabelDraft); err != nil {
			return out, err
		}
		if err := star(); err != nil {
			return out, err
		}
		out.draft = true
	}
	return out, nil
}

func (o *Orchestrator) label(ctx context.Context, threadID string, name types.LabelName) error {
	label := o.opts.Labels[name]
	if label == "" {
		label = string(name)
	}
	if err := o.mb.AddLabel(ctx, threadID, label); err != nil {
		return fmt.Errorf("add label %s: %w", label, err)
	}
	return nil
}

// notify sends the webhook. Failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, d types.Decision, msg types.Message) bool {
	if o.notifier == nil {
		return false
	}
	sent, err := o.notifier.Notify(ctx, d, msg)
	if err != nil {
		o.logger.Warn("webhook failed", "message", msg.ID, "error", err)
		return false
	}
	return sent
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/daviddao/mailtriage/internal/auth"
	"github.com/daviddao/mailtriage/internal/contextbuilder"
	"github.com/daviddao/mailtriage/internal/credential"
	"github.com/daviddao/mailtriage/internal/draft"
	"github.com/daviddao/mailtriage/internal/gmail"
	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/runner"
	"github.com/daviddao/mailtriage/internal/triage"
	"github.com/daviddao/mailtriage/internal/types"
	"github.com/daviddao/mailtriage/internal/webhook"
)

// pipeline is everything a run needs, wired from cfg.
type pipeline struct {
	mailbox *gmail.Client
	context *contextbuilder.Builder
	runner  *runner.Runner
}

// fillSecrets reads the Gemini key and webhook URL from the keyring when
// the config leaves them empty.
func fillSecrets() {
	if cfg.Gemini.APIKey != "" && cfg.Webhook.URL != "" {
		return
	}
	creds, err := credential.Open()
	if err != nil {
		logger.Debug("keyring unavailable", "error", err)
		return
	}
	lookup := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		v, err := creds.Get(key)
		if err != nil {
			if !errors.Is(err, credential.ErrNotFound) {
				logger.Warn("keyring lookup failed", "key", key, "error", err)
			}
			return
		}
		*dst = v
	}
	lookup(&cfg.Gemini.APIKey, credential.KeyGeminiAPIKey)
	lookup(&cfg.Webhook.URL, credential.KeyWebhookURL)
}

// openMailbox connects to Gmail and resolves the owner address.
func openMailbox(ctx context.Context) (*gmail.Client, error) {
	svc, err := auth.LoadGmailService(ctx, cfg.Gmail.Credentials, logger)
	if err != nil {
		return nil, err
	}
	mb := gmail.New(svc)
	if cfg.Owner.Email == "" {
		addr, err := mb.Profile(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve owner address: %w", err)
		}
		cfg.Owner.Email = addr
	}
	return mb, nil
}

func newContextBuilder(mb *gmail.Client) *contextbuilder.Builder {
	return contextbuilder.New(mb, store, contextbuilder.Options{
		OwnerEmail:      cfg.Owner.Email,
		TopicQuery:      cfg.Context.TopicQuery,
		HistoryDays:     cfg.Context.HistoryDays,
		CacheTTL:        cfg.Context.CacheTTL,
		MaxChars:        cfg.Context.MaxChars,
		SearchLimit:     cfg.Context.SearchLimit,
		MaxSubjects:     cfg.Context.MaxSubjects,
		MaxContacts:     cfg.Context.MaxContacts,
		MaxStyleSamples: cfg.Context.MaxStyleSamples,
		Excluded:        cfg.ExcludedDomains,
	}, logger)
}

func newNotifier() *webhook.Notifier {
	return webhook.New(webhook.Options{
		URL:       cfg.Webhook.URL,
		Mode:      webhook.Mode(cfg.Webhook.Mode),
		ParamName: cfg.Webhook.ParamName,
		Timeout:   cfg.Webhook.Timeout,
	}, logger)
}

// buildPipeline wires the full run from cfg.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	fillSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mb, err := openMailbox(ctx)
	if err != nil {
		return nil, err
	}

	gw := llm.New(llm.Options{
		BaseURL: cfg.Gemini.BaseURL,
		APIKey:  cfg.Gemini.APIKey,
		Timeout: cfg.Gemini.Timeout,
	}, logger)

	labels := triage.Labels{
		types.LabelStar:    cfg.Labels.Star,
		types.LabelDraft:   cfg.Labels.Draft,
		types.LabelNotify:  cfg.Labels.Notify,
		types.LabelArchive: cfg.Labels.Archive,
		types.LabelBlock:   cfg.Labels.Block,
		types.LabelUnsure:  cfg.Labels.Unsure,
	}
	stage1 := triage.New(mb, gw, newNotifier(), triage.Options{
		Model:             cfg.Gemini.TriageModel,
		SystemPrompt:      cfg.Prompts.Triage,
		EnableDestructive: cfg.Actions.EnableDestructive,
		Labels:            labels,
	}, logger)
	stage2 := draft.New(mb, gw, draft.Options{
		Model:           cfg.Gemini.DraftModel,
		SystemPrompt:    cfg.Prompts.Drafting,
		OwnerName:       cfg.Owner.Name,
		OwnerEmail:      cfg.Owner.Email,
		HistoryMessages: cfg.Batch.HistoryMessages,
		HistoryChars:    cfg.Batch.HistoryChars,
	}, logger)

	cb := newContextBuilder(mb)
	r := runner.New(mb, store, cb, stage1, stage2, runner.Options{
		Sources:      cfg.Sources,
		MaxEmails:    cfg.Batch.MaxEmails,
		MinBatchSize: cfg.Batch.MinSize,
		MaxWait:      cfg.Batch.MaxWait,
		LookbackDays: cfg.Batch.LookbackDays,
		PreviewChars: cfg.Batch.PreviewChars,
		FullChars:    cfg.Batch.FullBodyChars,
	}, logger)

	return &pipeline{mailbox: mb, context: cb, runner: r}, nil
}

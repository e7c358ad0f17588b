// Package draft runs the second model stage: it drafts replies for the
// candidates selected by triage and stores them as reply-all drafts.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/mail"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/normalize"
	"github.com/daviddao/mailtriage/internal/prompts"
	"github.com/daviddao/mailtriage/internal/types"
)

// quoteDateLayout matches the attribution line Gmail writes.
const quoteDateLayout = "Mon, Jan 2, 2006 at 3:04 PM"

// Gateway is the model call.
type Gateway interface {
	Invoke(ctx context.Context, model, systemPrompt, userPrompt string) (map[string]json.RawMessage, error)
}

// Options configure an Orchestrator.
type Options struct {
	Model string
	// SystemPrompt replaces prompts.Drafting when non-empty.
	SystemPrompt    string
	OwnerName       string
	OwnerEmail      string
	HistoryMessages int
	HistoryChars    int
}

// Result summarizes one stage 2 pass.
type Result struct {
	Requested int
	Returned  int
	Created   int
	Failed    int
}

// Orchestrator is stage 2.
type Orchestrator struct {
	mb     mailbox.Mailbox
	gw     Gateway
	opts   Options
	logger *log.Logger
}

// New creates an Orchestrator.
func New(mb mailbox.Mailbox, gw Gateway, opts Options, logger *log.Logger) *Orchestrator {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompts.Drafting(opts.OwnerName)
	}
	if opts.HistoryMessages == 0 {
		opts.HistoryMessages = 2
	}
	if opts.HistoryChars == 0 {
		opts.HistoryChars = 800
	}
	return &Orchestrator{mb: mb, gw: gw, opts: opts, logger: logger.WithPrefix("draft")}
}

// Run drafts replies for candidates. With no candidates the model is not
// called. The only error returned wraps llm.ErrTransport.
func (o *Orchestrator) Run(ctx context.Context, draftingContext string, candidates []types.DraftCandidate) (Result, error) {
	res := Result{Requested: len(candidates)}
	if len(candidates) == 0 {
		return res, nil
	}

	entries := make([]prompts.DraftEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, prompts.DraftEntry{Item: c.Item, History: o.history(c.Ref.Thread)})
	}

	raw, err := o.gw.Invoke(ctx, o.opts.Model, o.opts.SystemPrompt, prompts.DraftUser(draftingContext, entries))
	if err != nil {
		return res, fmt.Errorf("stage 2: %w", err)
	}
	results := llm.ParseDrafts(raw, o.logger)
	res.Returned = len(results)

	for _, c := range candidates {
		r, ok := results[c.Item.LocalID]
		if !ok || strings.TrimSpace(r.DraftText) == "" {
			o.logger.Info("no draft produced", "id", c.Item.LocalID, "thread", c.Ref.Thread.ID)
			continue
		}
		id, err := o.mb.CreateDraft(ctx, o.Reply(c.Ref, r.DraftText))
		if err != nil {
			res.Failed++
			o.logger.Error("create draft failed", "id", c.Item.LocalID, "thread", c.Ref.Thread.ID, "error", err)
			continue
		}
		res.Created++
		o.logger.Info("draft created", "id", c.Item.LocalID, "thread", c.Ref.Thread.ID, "draft", id, "reason", r.Reason)
	}

	o.logger.Info("stage 2 complete", "requested", res.Requested, "returned", res.Returned, "created", res.Created, "failed", res.Failed)
	return res, nil
}

func (o *Orchestrator) history(t types.Thread) []prompts.HistoryMessage {
	msgs := t.History(o.opts.HistoryMessages)
	out := make([]prompts.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, prompts.HistoryMessage{
			From: m.From,
			Date: m.Date,
			Body: normalize.Clean(m.PlainBody, o.opts.HistoryChars),
		})
	}
	return out
}

// Reply builds the reply-all draft for ref's message.
func (o *Orchestrator) Reply(ref types.Ref, text string) mailbox.Draft {
	m := ref.Message
	refs := strings.TrimSpace(m.References + " " + m.MessageID)
	return mailbox.Draft{
		ThreadID:   ref.Thread.ID,
		To:         m.From,
		Cc:         replyAllCc(m, o.opts.OwnerEmail),
		Subject:    replySubject(m.Subject),
		InReplyTo:  m.MessageID,
		References: refs,
		HTMLBody:   RenderHTML(text, m),
	}
}

// RenderHTML renders text followed by a Gmail style quote of orig.
func RenderHTML(text string, orig types.Message) string {
	var b strings.Builder
	b.WriteString(`<div dir="ltr">`)
	b.WriteString(textToHTML(text))
	b.WriteString("</div><br>")

	b.WriteString(`<div class="gmail_quote"><div dir="ltr" class="gmail_attr">On `)
	if !orig.Date.IsZero() {
		b.WriteString(html.EscapeString(orig.Date.Format(quoteDateLayout)))
	}
	b.WriteString(", ")
	b.WriteString(html.EscapeString(orig.From))
	b.WriteString(" wrote:<br></div>")
	b.WriteString(`<blockquote class="gmail_quote" style="margin:0px 0px 0px 0.8ex;border-left:1px solid rgb(204,204,204);padding-left:1ex">`)
	if orig.HTMLBody != "" {
		b.WriteString(orig.HTMLBody)
	} else {
		b.WriteString(textToHTML(orig.PlainBody))
	}
	b.WriteString("</blockquote></div>")
	return b.String()
}

func textToHTML(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>")
}

func replySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

// replyAllCc returns the original To and Cc recipients without the owner
// and without the original sender, who is already in To.
func replyAllCc(m types.Message, owner string) string {
	var out []string
	seen := make(map[string]bool)
	sender := addressOf(m.From)
	for _, field := range []string{m.To, m.CC} {
		if strings.TrimSpace(field) == "" {
			continue
		}
		for _, a := range parseList(field) {
			addr := strings.ToLower(a.Address)
			if addr == "" || seen[addr] || addr == sender || (owner != "" && strings.EqualFold(addr, owner)) {
				continue
			}
			seen[addr] = true
			out = append(out, a.String())
		}
	}
	return strings.Join(out, ", ")
}

func addressOf(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// parseList falls back to a comma split for headers net/mail rejects.
func parseList(field string) []*mail.Address {
	if list, err := mail.ParseAddressList(field); err == nil {
		return list
	}
	var out []*mail.Address
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if a, err := mail.ParseAddress(part); err == nil {
			out = append(out, a)
			continue
		}
		out = append(out, &mail.Address{Address: part})
	}
	return out
}

// Package contextbuilder assembles the active context: a summary of recent
// projects, correspondents and writing samples that grounds both model
// stages. Results are cached in the kv store.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/normalize"
	"github.com/daviddao/mailtriage/internal/types"
)

// CacheKey is where the serialized ActiveContext is stored.
const CacheKey = "active_context_obj"

const truncatedSuffix = "...(truncated)"

var projectRe = regexp.MustCompile(` on (.*?) (?:-|via)`)

// Options control what the builder scans and how much it keeps.
type Options struct {
	OwnerEmail      string
	TopicQuery      string
	HistoryDays     int
	CacheTTL        time.Duration
	MaxChars        int
	SearchLimit     int
	MaxSubjects     int
	MaxContacts     int
	MaxStyleSamples int
	Excluded        []string
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	return Options{
		TopicQuery:      "label:Trello",
		HistoryDays:     14,
		CacheTTL:        1500 * time.Second,
		MaxChars:        50000,
		SearchLimit:     100,
		MaxSubjects:     30,
		MaxContacts:     40,
		MaxStyleSamples: 3,
	}
}

// Builder builds and caches the active context.
type Builder struct {
	mb     mailbox.Mailbox
	store  kv.Store
	opts   Options
	logger *log.Logger
}

// New creates a Builder.
func New(mb mailbox.Mailbox, store kv.Store, opts Options, logger *log.Logger) *Builder {
	return &Builder{mb: mb, store: store, opts: opts, logger: logger.WithPrefix("context")}
}

// Report counts what went into a fresh build.
type Report struct {
	Projects      int
	Subjects      int
	RawSubjects   int
	Contacts      int
	RawContacts   int
	StyleExamples int
	TriageChars   int
	DraftingChars int
}

// Build returns the active context. Unless forceRefresh is set, a cached
// entry is returned without touching the mailbox. Build never fails: cache
// and source errors are logged and degrade the result.
func (b *Builder) Build(ctx context.Context, forceRefresh bool) types.ActiveContext {
	if !forceRefresh {
		if ac, ok := b.cached(ctx); ok {
			b.logger.Debug("returning cached context")
			return ac
		}
	}

	b.logger.Info("building fresh context")
	ac, report := b.build(ctx)

	b.logger.Info("context build report",
		"projects", report.Projects,
		"subjects", report.Subjects, "raw_subjects", report.RawSubjects,
		"contacts", report.Contacts, "raw_contacts", report.RawContacts,
		"style_examples", report.StyleExamples,
		"triage_chars", report.TriageChars,
		"drafting_chars", report.DraftingChars,
	)

	data, err := json.Marshal(ac)
	if err == nil {
		err = b.store.Set(ctx, CacheKey, string(data), b.opts.CacheTTL)
	}
	if err != nil {
		b.logger.Warn("failed to cache context", "error", err)
	}
	return ac
}

func (b *Builder) cached(ctx context.Context) (types.ActiveContext, bool) {
	raw, ok, err := b.store.Get(ctx, CacheKey)
	if err != nil {
		b.logger.Warn("read context cache", "error", err)
		return types.ActiveContext{}, false
	}
	if !ok {
		return types.ActiveContext{}, false
	}
	var ac types.ActiveContext
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		b.logger.Warn("discarding corrupt context cache", "error", err)
		return types.ActiveContext{}, false
	}
	return ac, true
}

func (b *Builder) search(ctx context.Context, source, query string) []types.Thread {
	threads, err := b.mb.Search(ctx, query, b.opts.SearchLimit)
	if err != nil {
		b.logger.Warn("context source failed", "source", source, "query", query, "error", err)
		return nil
	}
	return threads
}

func (b *Builder) build(ctx context.Context) (types.ActiveContext, Report) {
	window := fmt.Sprintf("newer_than:%dd", b.opts.HistoryDays)

	projects := newOrderedSet()
	subjects := newOrderedSet()
	contacts := newOrderedSet()
	var styles []string
	var report Report

	for _, t := range b.search(ctx, "topic", b.opts.TopicQuery+" "+window) {
		if m := projectRe.FindStringSubmatch(t.FirstSubject()); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				projects.add("Active Project: " + name)
			}
		}
	}

	for _, t := range b.search(ctx, "sent", "from:me "+window) {
		last, ok := lastFromOwner(t, b.opts.OwnerEmail)
		if !ok || normalize.IsExcluded(last.To, b.opts.Excluded) {
			continue
		}

		if sub := normalize.CleanSubject(t.FirstSubject()); sub != "" {
			report.RawSubjects++
			subjects.add(sub)
		}

		for _, recipient := range strings.Split(last.To, ",") {
			recipient = strings.TrimSpace(recipient)
			if recipient != "" && !normalize.IsExcluded(recipient, b.opts.Excluded) {
				report.RawContacts++
				contacts.add(recipient)
			}
		}

		if len(styles) < b.opts.MaxStyleSamples && !normalize.IsCalendarInvite(t.FirstSubject(), last.PlainBody) {
			body := normalize.Clean(last.PlainBody, 0)
			if n := len([]rune(body)); n > 50 && n < 1000 {
				styles = append(styles, fmt.Sprintf("Subject: %s\nBody: \"%s\"", last.Subject, body))
			}
		}
	}

	for _, t := range b.search(ctx, "starred", "is:starred "+window) {
		if sub := normalize.CleanSubject(t.FirstSubject()); sub != "" {
			report.RawSubjects++
			subjects.add(sub + " (Starred)")
		}
	}

	var projectSection string
	if projects.len() > 0 {
		projectSection = "ACTIVE PROJECTS:\n- " + strings.Join(projects.items, "\n- ")
	}

	var activity []string
	if subjects.len() > 0 {
		activity = append(activity, "RECENT EMAIL SUBJECTS:\n- "+strings.Join(head(subjects.items, b.opts.MaxSubjects), "\n- "))
	}
	if contacts.len() > 0 {
		activity = append(activity, "RECENT CONTACTS (VIPs / Colleagues):\n- "+strings.Join(head(contacts.items, b.opts.MaxContacts), "\n- "))
	}

	var triageParts []string
	for _, s := range []string{projectSection, strings.Join(activity, "\n\n")} {
		if s != "" {
			triageParts = append(triageParts, s)
		}
	}

	var drafting string
	if len(styles) > 0 {
		drafting = "MY WRITING STYLE / VOICE EXAMPLES (Mimic this tone):\n" + strings.Join(styles, "\n---\n") + "\n\n"
	}
	if projectSection != "" {
		drafting += "\nRELEVANT CONTEXT:\n" + projectSection
	}

	ac := types.ActiveContext{
		TriageContext:   capChars(strings.Join(triageParts, "\n\n"), b.opts.MaxChars),
		DraftingContext: capChars(drafting, b.opts.MaxChars),
	}

	report.Projects = projects.len()
	report.Subjects = subjects.len()
	report.Contacts = contacts.len()
	report.StyleExamples = len(styles)
	report.TriageChars = len(ac.TriageContext)
	report.DraftingChars = len(ac.DraftingContext)
	return ac, report
}

// lastFromOwner returns the newest message in t sent by owner.
func lastFromOwner(t types.Thread, owner string) (types.Message, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].IsFrom(owner) {
			return t.Messages[i], true
		}
	}
	return types.Message{}, false
}

func capChars(s string, max int) string {
	if max <= 0 {
		return s
	}
	if cut := normalize.Truncate(s, max); cut != s {
		return cut + truncatedSuffix
	}
	return s
}

func head(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) {
	if !s.seen[v] {
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

func (s *orderedSet) len() int { return len(s.items) }

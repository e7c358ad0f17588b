package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/logging"
	"github.com/daviddao/mailtriage/internal/mailbox/mailboxtest"
	"github.com/daviddao/mailtriage/internal/types"
)

const owner = "me@example.com"

const launchBody = "Hi Alice, attaching the launch plan for next week. Let me know what you think."

const vendorBody = "Hi Carol, can we move the vendor sync to Thursday afternoon this week?"

func sentThread(id, subject, to, body string) types.Thread {
	return types.Thread{ID: id, Messages: []types.Message{
		{ID: id + "-1", From: "Alice <alice@example.com>", To: owner, Subject: subject, PlainBody: "question?"},
		{ID: id + "-2", From: "Me <" + owner + ">", To: to, Subject: "Re: " + subject, PlainBody: body},
	}}
}

func subjectThread(id, subject string) types.Thread {
	return types.Thread{ID: id, Messages: []types.Message{{ID: id + "-1", Subject: subject}}}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.OwnerEmail = owner
	opts.Excluded = []string{"noreply@", "linkedin.com"}
	return opts
}

func seeded() *mailboxtest.Fake {
	mb := mailboxtest.New()
	mb.On("label:Trello", subjectThread("p1", "Card moved on Website Relaunch - Trello"))
	mb.On("from:me",
		sentThread("s1", "Launch plan", "alice@example.com", launchBody),
		sentThread("s2", "Opportunity", "jobs@linkedin.com", launchBody),
		sentThread("s3", "Invitation: Standup @ Tue Jan 7, 2025 10am", "bob@example.com", launchBody),
		sentThread("s4", "Vendor sync", "carol@example.com, noreply@tools.io", vendorBody),
	)
	mb.On("is:starred", subjectThread("st1", "Re: Budget"))
	return mb
}

func TestBuildComposesContexts(t *testing.T) {
	b := New(seeded(), kv.NewMemory(kv.Options{}), testOptions(), logging.Discard())
	ac := b.Build(context.Background(), false)

	be.Equal(t, ac.TriageContext, "ACTIVE PROJECTS:\n- Active Project: Website Relaunch\n\n"+
		"RECENT EMAIL SUBJECTS:\n- Launch plan\n- Standup\n- Budget (Starred)\n\n"+
		"RECENT CONTACTS (VIPs / Colleagues):\n- alice@example.com\n- bob@example.com")

	be.Equal(t, ac.DraftingContext, "MY WRITING STYLE / VOICE EXAMPLES (Mimic this tone):\n"+
		"Subject: Re: Launch plan\nBody: \""+launchBody+"\"\n\n"+
		"\nRELEVANT CONTEXT:\nACTIVE PROJECTS:\n- Active Project: Website Relaunch")
}

func TestBuildSkipsThreadWithExcludedRecipient(t *testing.T) {
	b := New(seeded(), kv.NewMemory(kv.Options{}), testOptions(), logging.Discard())
	ac := b.Build(context.Background(), false)

	for _, s := range []string{ac.TriageContext, ac.DraftingContext} {
		be.True(t, !strings.Contains(s, "Vendor sync"))
		be.True(t, !strings.Contains(s, "carol@example.com"))
		be.True(t, !strings.Contains(s, vendorBody))
	}
}

func TestBuildSearchQueries(t *testing.T) {
	mb := seeded()
	opts := testOptions()
	opts.HistoryDays = 7
	New(mb, kv.NewMemory(kv.Options{}), opts, logging.Discard()).Build(context.Background(), false)

	be.Equal(t, mb.Searches, []string{
		"label:Trello newer_than:7d",
		"from:me newer_than:7d",
		"is:starred newer_than:7d",
	})
}

func TestBuildCacheCoherence(t *testing.T) {
	mb := seeded()
	b := New(mb, kv.NewMemory(kv.Options{}), testOptions(), logging.Discard())
	ctx := context.Background()

	first := b.Build(ctx, false)
	searches := mb.SearchCount()

	mb.On("is:starred", subjectThread("st2", "Brand new thread"))
	second := b.Build(ctx, false)

	be.Equal(t, second, first)
	be.Equal(t, mb.SearchCount(), searches)

	fresh := b.Build(ctx, true)
	be.True(t, strings.Contains(fresh.TriageContext, "Brand new thread (Starred)"))
	be.Equal(t, mb.SearchCount(), 2*searches)
}

func TestBuildCacheWriteFailureIsSwallowed(t *testing.T) {
	mb := seeded()
	store := kv.NewMemory(kv.Options{MaxValueBytes: 16})
	b := New(mb, store, testOptions(), logging.Discard())
	ctx := context.Background()

	ac := b.Build(ctx, false)
	be.True(t, ac.TriageContext != "")

	_, ok, _ := store.Get(ctx, CacheKey)
	be.Equal(t, ok, false)

	b.Build(ctx, false)
	be.Equal(t, mb.SearchCount(), 6)
}

func TestBuildSourceFailureIsSkipped(t *testing.T) {
	mb := seeded()
	mb.SearchErr["from:me"] = errors.New("quota exceeded")
	ac := New(mb, kv.NewMemory(kv.Options{}), testOptions(), logging.Discard()).Build(context.Background(), false)

	be.Equal(t, ac.TriageContext, "ACTIVE PROJECTS:\n- Active Project: Website Relaunch\n\n"+
		"RECENT EMAIL SUBJECTS:\n- Budget (Starred)")
	be.Equal(t, ac.DraftingContext, "\nRELEVANT CONTEXT:\nACTIVE PROJECTS:\n- Active Project: Website Relaunch")
}

func TestBuildExcludedRecipientNeverContributes(t *testing.T) {
	mb := mailboxtest.New()
	mb.On("from:me", sentThread("s1", "Offer", "Recruiter <talent@LinkedIn.com>", launchBody))
	ac := New(mb, kv.NewMemory(kv.Options{}), testOptions(), logging.Discard()).Build(context.Background(), false)

	be.Equal(t, ac.TriageContext, "")
	be.Equal(t, ac.DraftingContext, "")
}

func TestBuildStyleSampleBounds(t *testing.T) {
	mb := mailboxtest.New()
	mb.On("from:me",
		sentThread("short", "Short", "a@example.com", strings.Repeat("x", 50)),
		sentThread("long", "Long", "b@example.com", strings.Repeat("y", 1000)),
		sentThread("ics", "Lunch", "c@example.com", launchBody+" invite.ics"),
	)
	for i := range 5 {
		mb.On("from:me", sentThread(fmt.Sprintf("ok%d", i), fmt.Sprintf("Topic %d", i), "d@example.com", launchBody))
	}
	ac := New(mb, kv.NewMemory(kv.Options{}), testOptions(), logging.Discard()).Build(context.Background(), false)

	be.Equal(t, strings.Count(ac.DraftingContext, "Subject: "), 3)
	be.True(t, strings.Contains(ac.DraftingContext, "Subject: Re: Topic 0"))
	be.True(t, !strings.Contains(ac.DraftingContext, "Subject: Re: Short"))
	be.True(t, !strings.Contains(ac.DraftingContext, "Subject: Re: Long"))
	be.True(t, !strings.Contains(ac.DraftingContext, "Subject: Re: Lunch"))
}

func TestBuildSkipsThreadsWithoutOwnerMessage(t *testing.T) {
	mb := mailboxtest.New()
	mb.On("from:me", types.Thread{ID: "x", Messages: []types.Message{
		{From: "alice@example.com", To: owner, Subject: "Hello"},
	}})
	ac := New(mb, kv.NewMemory(kv.Options{}), testOptions(), logging.Discard()).Build(context.Background(), false)
	be.Equal(t, ac.TriageContext, "")
}

func TestBuildCapsLength(t *testing.T) {
	opts := testOptions()
	opts.MaxChars = 20
	ac := New(seeded(), kv.NewMemory(kv.Options{}), opts, logging.Discard()).Build(context.Background(), false)

	be.Equal(t, ac.TriageContext, "ACTIVE PROJECTS:\n- A"+truncatedSuffix)
	be.True(t, strings.HasSuffix(ac.DraftingContext, truncatedSuffix))
}

func TestBuildCapsSubjectsAndContacts(t *testing.T) {
	mb := mailboxtest.New()
	for i := range 4 {
		mb.On("is:starred", subjectThread(fmt.Sprintf("s%d", i), fmt.Sprintf("Subject %d", i)))
	}
	opts := testOptions()
	opts.MaxSubjects = 2
	ac := New(mb, kv.NewMemory(kv.Options{}), opts, logging.Discard()).Build(context.Background(), false)

	be.Equal(t, ac.TriageContext, "RECENT EMAIL SUBJECTS:\n- Subject 0 (Starred)\n- Subject 1 (Starred)")
}

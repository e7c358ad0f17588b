package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nalgeon/be"

	"github.com/daviddao/mailtriage/internal/draft"
	"github.com/daviddao/mailtriage/internal/kv"
	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/logging"
	"github.com/daviddao/mailtriage/internal/mailbox/mailboxtest"
	"github.com/daviddao/mailtriage/internal/mockgemini"
	"github.com/daviddao/mailtriage/internal/triage"
	"github.com/daviddao/mailtriage/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type staticContext struct{ builds int }

func (s *staticContext) Build(context.Context, bool) types.ActiveContext {
	s.builds++
	return types.ActiveContext{TriageContext: "ACTIVE PROJECTS:\n- Launch", DraftingContext: "STYLE"}
}

type harness struct {
	mb      *mailboxtest.Fake
	store   *kv.Memory
	mock    *mockgemini.Server
	context *staticContext
	runner  *Runner
}

func thread(id string) types.Thread {
	return types.Thread{ID: id, Messages: []types.Message{{
		ID:        id + "-m",
		ThreadID:  id,
		From:      "Sender <s@example.com>",
		To:        "me@example.com",
		Subject:   "Subject " + id,
		PlainBody: "Body of " + id + "\n\nOn Mon, Jan 1 wrote:\n> old",
		Date:      now.Add(-time.Hour),
		MessageID: "<" + id + "@example.com>",
	}}}
}

func newHarness(t *testing.T, baseURL string, timeout time.Duration, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		mb:      mailboxtest.New(),
		store:   kv.NewMemory(kv.Options{}),
		mock:    mockgemini.New(),
		context: &staticContext{},
	}
	if baseURL == "" {
		srv := httptest.NewServer(h.mock.Engine())
		t.Cleanup(srv.Close)
		baseURL = srv.URL + "/models"
	}
	logger := logging.Discard()
	gw := llm.New(llm.Options{BaseURL: baseURL, APIKey: "k", Timeout: timeout}, logger)
	labels := triage.Labels{types.LabelStar: "ai_star", types.LabelDraft: "ai_draft", types.LabelNotify: "ai_notify"}
	t1 := triage.New(h.mb, gw, nil, triage.Options{Model: "triage", Labels: labels}, logger)
	t2 := draft.New(h.mb, gw, draft.Options{Model: "draft", OwnerEmail: "me@example.com"}, logger)

	opts := Options{
		Sources:   []string{"is:unread in:inbox", "label:later"},
		MaxEmails: 30,
		Now:       func() time.Time { return now },
	}
	if mod != nil {
		mod(&opts)
	}
	h.runner = New(h.mb, h.store, h.context, t1, t2, opts, logger)
	return h
}

func (h *harness) watermark(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(context.Background(), WatermarkKey)
	be.Err(t, err, nil)
	return v, ok
}

func (h *harness) setWatermark(t *testing.T, at time.Time) {
	t.Helper()
	be.Err(t, h.store.Set(context.Background(), WatermarkKey, strconv.FormatInt(at.Unix(), 10), 0), nil)
}

func TestRunCommitsStartTime(t *testing.T) {
	h := newHarness(t, "", 0, nil)
	h.mb.On("is:unread in:inbox", thread("a"), thread("b"))
	h.mb.On("label:later", thread("b"), thread("c"))
	h.mock.Enqueue("triage", mockgemini.Reply{Text: `{
		"msg_0": {"importance":"STAR"},
		"msg_2": {"importance":"NEITHER","draft_reply":true}
	}`})
	h.mock.Enqueue("draft", mockgemini.Reply{Text: `{"msg_2":{"draft_text":"Will do."}}`})

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Outcome, types.OutcomeCommitted)
	be.Equal(t, sum.Threads, 3)
	be.Equal(t, sum.Decisions, 2)
	be.Equal(t, sum.DraftsRequested, 1)
	be.Equal(t, sum.DraftsCreated, 1)
	be.True(t, sum.RunID != "")

	v, ok := h.watermark(t)
	be.True(t, ok)
	be.Equal(t, v, strconv.FormatInt(now.Unix(), 10))

	after := now.Add(-24 * time.Hour).Unix()
	be.Equal(t, h.mb.Searches, []string{
		fmt.Sprintf("is:unread in:inbox after:%d", after),
		fmt.Sprintf("label:later after:%d", after),
	})
	be.True(t, h.mb.HasLabel("a", "ai_star"))
	be.True(t, h.mb.HasLabel("c", "ai_draft"))
	be.Equal(t, len(h.mb.Drafts), 1)
	be.Equal(t, h.mb.Drafts[0].ThreadID, "c")

	reqs := h.mock.Requests()
	be.Equal(t, len(reqs), 2)
	be.True(t, strings.Contains(reqs[0].Text, "ACTIVE PROJECTS:\n- Launch"))
	be.True(t, strings.Contains(reqs[0].Text, "Body: Body of a\n"))
	be.True(t, !strings.Contains(reqs[0].Text, "> old"))
	be.True(t, strings.Contains(reqs[1].Text, "STYLE"))
	be.Equal(t, h.context.builds, 1)

	stored, ok, err := LastSummary(context.Background(), h.store)
	be.Err(t, err, nil)
	be.True(t, ok)
	be.Equal(t, stored.RunID, sum.RunID)
	be.Equal(t, stored.Outcome, types.OutcomeCommitted)
	be.Equal(t, len(stored.Items), 2)
	be.Equal(t, stored.Items[0].ThreadID, "a")
	be.Equal(t, stored.Items[0].Importance, types.ImportanceStar)
	be.Equal(t, stored.Items[1].Subject, "Subject c")
	be.True(t, stored.Items[1].Draft)
}

func TestTransportFailureKeepsWatermark(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	h := newHarness(t, base, 0, nil)
	h.setWatermark(t, now.Add(-2*time.Hour))
	h.mb.On("is:unread in:inbox", thread("a"))

	sum, err := h.runner.RunOnce(context.Background())
	be.True(t, errors.Is(err, llm.ErrTransport))
	be.True(t, IsTransport(err))
	be.Equal(t, sum.Outcome, types.OutcomeAborted)

	v, _ := h.watermark(t)
	be.Equal(t, v, strconv.FormatInt(now.Add(-2*time.Hour).Unix(), 10))
	be.Equal(t, len(h.mb.Labels), 0)

	stored, ok, err := LastSummary(context.Background(), h.store)
	be.Err(t, err, nil)
	be.True(t, ok)
	be.Equal(t, stored.Outcome, types.OutcomeAborted)
	be.True(t, stored.Error != "")
}

func TestDraftStageTransportFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t, "", 200*time.Millisecond, nil)
	h.mb.On("is:unread in:inbox", thread("a"))
	h.mock.Enqueue("triage", mockgemini.Reply{Text: `{"msg_0":{"importance":"STAR","draft_reply":true}}`})
	h.mock.Enqueue("draft", mockgemini.Reply{Text: `{}`, Delay: 2 * time.Second})

	_, err := h.runner.RunOnce(context.Background())
	be.True(t, errors.Is(err, llm.ErrTransport))

	_, ok := h.watermark(t)
	be.Equal(t, ok, false)
	// Stage 1 mutations stand.
	be.True(t, h.mb.HasLabel("a", "ai_star"))
	be.Equal(t, len(h.mb.Drafts), 0)
}

func TestSoftFailureStillCommits(t *testing.T) {
	h := newHarness(t, "", 0, nil)
	h.mb.On("is:unread in:inbox", thread("a"))
	h.mock.Enqueue("triage", mockgemini.Reply{Status: http.StatusInternalServerError, Raw: `{"error":{}}`})

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Outcome, types.OutcomeCommitted)
	be.Equal(t, sum.Decisions, 0)
	v, _ := h.watermark(t)
	be.Equal(t, v, strconv.FormatInt(now.Unix(), 10))
	be.Equal(t, len(h.mock.Requests()), 1)
}

func TestEmptyRunLeavesWatermark(t *testing.T) {
	h := newHarness(t, "", 0, nil)

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Outcome, types.OutcomeEmpty)
	_, ok := h.watermark(t)
	be.Equal(t, ok, false)
	be.Equal(t, len(h.mock.Requests()), 0)
	be.Equal(t, h.context.builds, 0)
}

func TestFetchCapsBatch(t *testing.T) {
	h := newHarness(t, "", 0, func(o *Options) { o.MaxEmails = 2 })
	h.mb.On("is:unread in:inbox", thread("a"), thread("b"))
	h.mb.On("label:later", thread("c"))

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Threads, 2)

	text := h.mock.Requests()[0].Text
	be.True(t, strings.Contains(text, "(ID: msg_1)"))
	be.True(t, !strings.Contains(text, "(ID: msg_2)"))
	be.True(t, !strings.Contains(text, "Subject c"))
}

func TestLookbackClampsWindow(t *testing.T) {
	h := newHarness(t, "", 0, func(o *Options) { o.LookbackDays = 14 })
	h.setWatermark(t, now.AddDate(0, -3, 0))

	_, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, h.mb.Searches[0], fmt.Sprintf("is:unread in:inbox after:%d", now.AddDate(0, 0, -14).Unix()))
}

func TestSmallBatchIsDeferred(t *testing.T) {
	gated := func(o *Options) {
		o.MinBatchSize = 5
		o.MaxWait = 2 * time.Hour
	}

	h := newHarness(t, "", 0, gated)
	h.setWatermark(t, now.Add(-30*time.Minute))
	h.mb.On("is:unread in:inbox", thread("a"))

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Outcome, types.OutcomeDeferred)
	be.Equal(t, len(h.mock.Requests()), 0)
	v, _ := h.watermark(t)
	be.Equal(t, v, strconv.FormatInt(now.Add(-30*time.Minute).Unix(), 10))

	h = newHarness(t, "", 0, gated)
	h.setWatermark(t, now.Add(-3*time.Hour))
	h.mb.On("is:unread in:inbox", thread("a"))

	sum, err = h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, sum.Outcome, types.OutcomeCommitted)
}

func TestSearchFailureAborts(t *testing.T) {
	h := newHarness(t, "", 0, nil)
	h.mb.On("is:unread in:inbox", thread("a"))
	h.mb.SearchErr["label:later"] = errors.New("quota exceeded")

	sum, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, "quota exceeded")
	be.Equal(t, sum.Outcome, types.OutcomeAborted)
	_, ok := h.watermark(t)
	be.Equal(t, ok, false)
	be.Equal(t, len(h.mock.Requests()), 0)
}

func TestWatermarkMonotonic(t *testing.T) {
	h := newHarness(t, "", 0, nil)
	h.mb.On("is:unread in:inbox", thread("a"))
	prev := now.Add(-time.Hour)
	h.setWatermark(t, prev)

	_, err := h.runner.RunOnce(context.Background())
	be.Err(t, err, nil)
	got, err := h.runner.Watermark(context.Background())
	be.Err(t, err, nil)
	be.True(t, !got.Before(prev))
}

func TestMalformedWatermarkUsesDefault(t *testing.T) {
	h := newHarness(t, "", 0, nil)
	be.Err(t, h.store.Set(context.Background(), WatermarkKey, "yesterday", 0), nil)

	got, err := h.runner.Watermark(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, got.Unix(), now.Add(-24*time.Hour).Unix())
}

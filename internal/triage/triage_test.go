package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nalgeon/be"

	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/logging"
	"github.com/daviddao/mailtriage/internal/mailbox/mailboxtest"
	"github.com/daviddao/mailtriage/internal/types"
)

type fakeGateway struct {
	reply string
	err   error
	calls []string
}

func (g *fakeGateway) Invoke(_ context.Context, model, _, user string) (map[string]json.RawMessage, error) {
	g.calls = append(g.calls, model)
	if g.err != nil {
		return nil, g.err
	}
	out := map[string]json.RawMessage{}
	if g.reply != "" {
		if err := json.Unmarshal([]byte(g.reply), &out); err != nil {
			panic(err)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	sent []types.Decision
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, d types.Decision, _ types.Message) (bool, error) {
	if n.err != nil {
		return false, n.err
	}
	n.sent = append(n.sent, d)
	return true, nil
}

var testLabels = Labels{
	types.LabelStar:    "ai_star",
	types.LabelDraft:   "ai_draft",
	types.LabelNotify:  "ai_notify",
	types.LabelArchive: "ai_archive",
	types.LabelBlock:   "ai_block",
	types.LabelUnsure:  "ai_unsure",
}

// batch builds n single-message threads t0..tn-1 with message ids m0..mn-1.
func batch(mb *mailboxtest.Fake, n int) ([]types.BatchItem, map[string]types.Ref) {
	items := make([]types.BatchItem, 0, n)
	refs := make(map[string]types.Ref, n)
	for i := range n {
		msg := types.Message{ID: fmt.Sprintf("m%d", i), ThreadID: fmt.Sprintf("t%d", i), From: "x@example.com", Subject: "s"}
		th := types.Thread{ID: msg.ThreadID, Messages: []types.Message{msg}}
		mb.On("thread:"+th.ID, th)
		id := fmt.Sprintf("msg_%d", i)
		items = append(items, types.BatchItem{LocalID: id, From: msg.From, Subject: msg.Subject, BodyPreview: "preview", FullBody: "full body"})
		refs[id] = types.Ref{Thread: th, Message: msg}
	}
	return items, refs
}

func newOrchestrator(mb *mailboxtest.Fake, gw *fakeGateway, n Notifier, destructive bool) *Orchestrator {
	return New(mb, gw, n, Options{Model: "triage-model", EnableDestructive: destructive, Labels: testLabels}, logging.Discard())
}

func TestStarAndArchiveScenario(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 2)
	gw := &fakeGateway{reply: `{
		"msg_0": {"importance":"STAR","draft_reply":false,"notify":false},
		"msg_1": {"importance":"ARCHIVE","notify":true,"notification_text":"x"}
	}`}
	n := &fakeNotifier{}

	res, err := newOrchestrator(mb, gw, n, false).Run(context.Background(), "ctx", items, refs)
	be.Err(t, err, nil)

	be.Equal(t, mb.Labels["t0"], []string{"ai_star"})
	be.Equal(t, mb.Starred["m0"], 1)

	be.Equal(t, mb.Labels["t1"], []string{"ai_archive", "ai_notify"})
	be.Equal(t, mb.Starred["m1"], 1)
	be.Equal(t, mb.Archived["t1"], false)
	be.Equal(t, mb.Read["t1"], false)

	be.Equal(t, len(n.sent), 1)
	be.Equal(t, n.sent[0].NotificationText, "x")
	be.Equal(t, res.Notifications, 1)
	be.Equal(t, res.Applied, 2)
	be.Equal(t, len(res.Candidates), 0)
	be.Equal(t, gw.calls, []string{"triage-model"})

	be.Equal(t, res.Items, []types.ItemOutcome{
		{ThreadID: "t0", From: "x@example.com", Subject: "s", Importance: types.ImportanceStar},
		{ThreadID: "t1", From: "x@example.com", Subject: "s", Importance: types.ImportanceArchive, Notified: true},
	})
}

func TestDestructiveShortCircuits(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 2)
	gw := &fakeGateway{reply: `{
		"msg_0": {"importance":"ARCHIVE","notify":true,"draft_reply":true},
		"msg_1": {"importance":"BLOCK","notify":true,"draft_reply":true}
	}`}
	n := &fakeNotifier{}

	res, err := newOrchestrator(mb, gw, n, true).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)

	be.Equal(t, mb.Labels["t0"], []string{"ai_archive"})
	be.True(t, mb.Read["t0"])
	be.True(t, mb.Archived["t0"])
	be.Equal(t, mb.Labels["t1"], []string{"ai_block"})
	be.True(t, mb.Trashed["t1"])

	be.Equal(t, len(mb.Starred), 0)
	be.Equal(t, len(n.sent), 0)
	be.Equal(t, len(res.Candidates), 0)
}

func TestDestructiveDisabledOnlyLabels(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 2)
	gw := &fakeGateway{reply: `{"msg_0":{"importance":"ARCHIVE"},"msg_1":{"importance":"BLOCK"}}`}

	_, err := newOrchestrator(mb, gw, nil, false).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, mb.Labels["t0"], []string{"ai_archive"})
	be.Equal(t, mb.Labels["t1"], []string{"ai_block"})
	be.Equal(t, len(mb.Archived), 0)
	be.Equal(t, len(mb.Trashed), 0)
	be.Equal(t, len(mb.Read), 0)
}

func TestDraftCandidatesCarryFullBody(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 3)
	gw := &fakeGateway{reply: `{
		"msg_0": {"importance":"NEITHER","draft_reply":true},
		"msg_1": {"importance":"UNSURE"},
		"msg_2": {"importance":"STAR","draft_reply":"true","notify":true}
	}`}

	res, err := newOrchestrator(mb, gw, &fakeNotifier{}, false).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)

	be.Equal(t, len(res.Candidates), 2)
	be.Equal(t, res.Candidates[0].Item.LocalID, "msg_0")
	be.Equal(t, res.Candidates[0].Item.FullBody, "full body")
	be.Equal(t, res.Candidates[0].Ref.Thread.ID, "t0")
	be.Equal(t, res.Candidates[1].Item.LocalID, "msg_2")

	be.Equal(t, mb.Labels["t0"], []string{"ai_draft"})
	be.Equal(t, mb.Labels["t1"], []string{"ai_unsure"})
	be.Equal(t, mb.Labels["t2"], []string{"ai_star", "ai_notify", "ai_draft"})
	be.Equal(t, mb.Starred["m0"], 1)
	be.Equal(t, mb.Starred["m1"], 0)
	be.Equal(t, mb.Starred["m2"], 1)
}

func TestMutationFailureIsIsolated(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 3)
	mb.FailThread["t1"] = errors.New("label api down")
	gw := &fakeGateway{reply: `{
		"msg_0": {"importance":"STAR"},
		"msg_1": {"importance":"STAR","draft_reply":true},
		"msg_2": {"importance":"STAR","draft_reply":true}
	}`}

	res, err := newOrchestrator(mb, gw, nil, false).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, res.Failed, 1)
	be.Equal(t, res.Applied, 2)
	be.True(t, mb.HasLabel("t0", "ai_star"))
	be.True(t, mb.HasLabel("t2", "ai_draft"))
	be.Equal(t, len(res.Candidates), 1)
	be.Equal(t, res.Candidates[0].Item.LocalID, "msg_2")

	be.Equal(t, len(res.Items), 3)
	be.Equal(t, res.Items[1].ThreadID, "t1")
	be.True(t, res.Items[1].Failed)
	be.Equal(t, res.Items[2].Draft, true)
	be.Equal(t, res.Items[2].Failed, false)
}

func TestWebhookFailureKeepsLabels(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 1)
	gw := &fakeGateway{reply: `{"msg_0":{"importance":"NEITHER","notify":true}}`}
	n := &fakeNotifier{err: errors.New("sink down")}

	res, err := newOrchestrator(mb, gw, n, false).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, res.Notifications, 0)
	be.Equal(t, res.Failed, 0)
	be.True(t, mb.HasLabel("t0", "ai_notify"))
	be.Equal(t, mb.Starred["m0"], 1)
}

func TestUnknownIDsDropped(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 1)
	gw := &fakeGateway{reply: `{"msg_7":{"importance":"STAR"},"bogus":{"importance":"BLOCK"}}`}

	res, err := newOrchestrator(mb, gw, nil, true).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, res.Decisions, 2)
	be.Equal(t, res.Applied, 0)
	be.Equal(t, len(mb.Labels), 0)
	be.Equal(t, len(mb.Trashed), 0)
}

func TestLabelingIsIdempotent(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 1)
	gw := &fakeGateway{reply: `{"msg_0":{"importance":"STAR","notify":true,"draft_reply":true}}`}
	o := newOrchestrator(mb, gw, nil, false)

	_, err := o.Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	first := append([]string(nil), mb.Labels["t0"]...)

	_, err = o.Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, mb.Labels["t0"], first)
}

func TestTransportFailurePropagates(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 1)
	gw := &fakeGateway{err: fmt.Errorf("%w: dial tcp: refused", llm.ErrTransport)}

	_, err := newOrchestrator(mb, gw, nil, false).Run(context.Background(), "", items, refs)
	be.True(t, errors.Is(err, llm.ErrTransport))
	be.Equal(t, len(mb.Labels), 0)
}

func TestEmptyDecisionsIsNotAnError(t *testing.T) {
	mb := mailboxtest.New()
	items, refs := batch(mb, 2)

	res, err := newOrchestrator(mb, &fakeGateway{}, nil, false).Run(context.Background(), "", items, refs)
	be.Err(t, err, nil)
	be.Equal(t, res.Decisions, 0)
	be.Equal(t, len(mb.Labels), 0)
}

func TestEmptyBatchSkipsModel(t *testing.T) {
	gw := &fakeGateway{}
	res, err := newOrchestrator(mailboxtest.New(), gw, nil, false).Run(context.Background(), "", nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, res, Result{})
	be.Equal(t, len(gw.calls), 0)
}

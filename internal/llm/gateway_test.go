package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nalgeon/be"
	"github.com/tidwall/gjson"

	"github.com/daviddao/mailtriage/internal/logging"
	"github.com/daviddao/mailtriage/internal/mockgemini"
	"github.com/daviddao/mailtriage/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestClient(t *testing.T, opts Options) (*Client, *mockgemini.Server) {
	t.Helper()
	mock := mockgemini.New()
	srv := httptest.NewServer(mock.Engine())
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL + "/models"
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	return New(opts, logging.Discard()), mock
}

func TestInvokeRequestShape(t *testing.T) {
	c, mock := newTestClient(t, Options{})
	mock.Enqueue("gemini-2.5-flash-lite", mockgemini.Reply{Text: `{"msg_0":{"importance":"STAR"}}`})

	got, err := c.Invoke(context.Background(), "gemini-2.5-flash-lite", "SYSTEM", "USER")
	be.Err(t, err, nil)
	be.Equal(t, gjson.GetBytes(got["msg_0"], "importance").String(), "STAR")

	reqs := mock.Requests()
	be.Equal(t, len(reqs), 1)
	be.Equal(t, reqs[0].Text, "SYSTEM\n\nUSER")
	be.Equal(t, reqs[0].Key, "test-key")
}

func TestInvokeStripsFence(t *testing.T) {
	c, mock := newTestClient(t, Options{})
	mock.Enqueue("m", mockgemini.Reply{Text: "```json\n{\"msg_1\":{\"importance\":\"ARCHIVE\"}}\n```"})

	got, err := c.Invoke(context.Background(), "m", "s", "u")
	be.Err(t, err, nil)
	be.Equal(t, len(got), 1)
	be.Equal(t, gjson.GetBytes(got["msg_1"], "importance").String(), "ARCHIVE")
}

func TestInvokeFlattensArray(t *testing.T) {
	c, mock := newTestClient(t, Options{})
	mock.Enqueue("m",
		mockgemini.Reply{Text: `[{"a":"X"},{"b":"Y"}]`},
		mockgemini.Reply{Text: `[{"a":"X"},{"a":"Y"}]`},
	)

	got, err := c.Invoke(context.Background(), "m", "s", "u")
	be.Err(t, err, nil)
	be.Equal(t, got, map[string]json.RawMessage{"a": json.RawMessage(`"X"`), "b": json.RawMessage(`"Y"`)})

	got, err = c.Invoke(context.Background(), "m", "s", "u")
	be.Err(t, err, nil)
	be.Equal(t, got, map[string]json.RawMessage{"a": json.RawMessage(`"Y"`)})
}

func TestInvokeSoftFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply mockgemini.Reply
	}{
		{"non-200", mockgemini.Reply{Status: http.StatusInternalServerError, Raw: `{"error":{"code":500}}`}},
		{"rate limited", mockgemini.Reply{Status: http.StatusTooManyRequests, Text: `{"msg_0":{}}`}},
		{"no candidates", mockgemini.Reply{Raw: `{"promptFeedback":{"blockReason":"SAFETY"}}`}},
		{"malformed json", mockgemini.Reply{Text: `{"msg_0": {"importance": `}},
		{"scalar json", mockgemini.Reply{Text: `"just text"`}},
		{"empty text", mockgemini.Reply{Text: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := newTestClient(t, Options{})
			mock.Enqueue("m", tt.reply)
			got, err := c.Invoke(context.Background(), "m", "s", "u")
			be.Err(t, err, nil)
			be.Equal(t, len(got), 0)
		})
	}
}

func TestInvokeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c := New(Options{BaseURL: baseURL, APIKey: "secret-key"}, logging.Discard())
	_, err := c.Invoke(context.Background(), "m", "s", "u")
	be.True(t, errors.Is(err, ErrTransport))
	be.True(t, !strings.Contains(err.Error(), "secret-key"))
}

func TestInvokeTimeoutIsTransportFailure(t *testing.T) {
	c, mock := newTestClient(t, Options{Timeout: 50 * time.Millisecond})
	mock.Enqueue("m", mockgemini.Reply{Text: `{}`, Delay: time.Second})

	_, err := c.Invoke(context.Background(), "m", "s", "u")
	be.True(t, errors.Is(err, ErrTransport))
}

func TestStripFence(t *testing.T) {
	be.Equal(t, stripFence("```json\n{}\n```"), "{}")
	be.Equal(t, stripFence("```\n[]\n```"), "[]")
	be.Equal(t, stripFence("  {\"a\":1}  "), `{"a":1}`)
}

func TestParseDecisionsDefaults(t *testing.T) {
	raw := map[string]json.RawMessage{
		"msg_0": json.RawMessage(`{"importance":" star ","draft_reply":"true","notify":true,"notification_text":"Call now","reason":"urgent"}`),
		"msg_1": json.RawMessage(`{"importance":"MAYBE","draft_reply":1,"notify":"no"}`),
		"msg_2": json.RawMessage(`{}`),
		"msg_3": json.RawMessage(`"not an object"`),
		"msg_4": json.RawMessage(`{"importance":7,"reason":{"x":1}}`),
	}
	got := ParseDecisions(raw, logging.Discard())

	be.Equal(t, len(got), 4)
	be.Equal(t, got["msg_0"], types.Decision{
		Importance:       types.ImportanceStar,
		DraftReply:       true,
		Notify:           true,
		NotificationText: "Call now",
		Reason:           "urgent",
	})
	be.Equal(t, got["msg_1"], types.Decision{Importance: types.ImportanceNeither})
	be.Equal(t, got["msg_2"], types.Decision{Importance: types.ImportanceNeither})
	be.Equal(t, got["msg_4"], types.Decision{Importance: types.ImportanceNeither})
	_, ok := got["msg_3"]
	be.Equal(t, ok, false)
}

func TestParseDrafts(t *testing.T) {
	raw := map[string]json.RawMessage{
		"msg_0": json.RawMessage(`{"draft_text":"Sounds good.","reason":"ack"}`),
		"msg_1": json.RawMessage(`{"draft_text":null}`),
		"msg_2": json.RawMessage(`[1,2]`),
	}
	got := ParseDrafts(raw, logging.Discard())
	be.Equal(t, len(got), 2)
	be.Equal(t, got["msg_0"], types.DraftResult{DraftText: "Sounds good.", Reason: "ack"})
	be.Equal(t, got["msg_1"].DraftText, "")
}

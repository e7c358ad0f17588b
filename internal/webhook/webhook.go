// Package webhook sends triage notifications to an external HTTP sink.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/daviddao/mailtriage/internal/types"
)

// Mode selects the wire format. Unknown modes send JSON.
type Mode string

const (
	ModeJSON     Mode = "JSON"
	ModeText     Mode = "TEXT"
	ModeURLParam Mode = "URL_PARAM"
)

const placeholderURL = "YOUR_WEBHOOK_URL"

// Options configure a Notifier.
type Options struct {
	URL       string
	Mode      Mode
	ParamName string
	Timeout   time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Notifier posts notifications. A zero-value URL disables it.
type Notifier struct {
	opts   Options
	http   *http.Client
	logger *log.Logger
}

// New creates a Notifier.
func New(opts Options, logger *log.Logger) *Notifier {
	if opts.Mode == "" {
		opts.Mode = ModeJSON
	}
	opts.Mode = Mode(strings.ToUpper(string(opts.Mode)))
	if opts.ParamName == "" {
		opts.ParamName = "message"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Notifier{opts: opts, http: hc, logger: logger.WithPrefix("webhook")}
}

// Enabled reports whether a usable URL is configured.
func (n *Notifier) Enabled() bool {
	u := strings.TrimSpace(n.opts.URL)
	return u != "" && strings.HasPrefix(u, "http") && !strings.Contains(u, placeholderURL)
}

type jsonPayload struct {
	MessageID        string         `json:"messageId"`
	Subject          string         `json:"subject"`
	Sender           string         `json:"sender"`
	GeminiOutput     types.Decision `json:"geminiOutput"`
	NotificationText string         `json:"notificationText"`
}

// NotificationText returns the decision text or the default alert.
func NotificationText(d types.Decision, msg types.Message) string {
	if d.NotificationText != "" {
		return d.NotificationText
	}
	return "Action required for email from " + msg.From
}

// Notify sends one notification for msg. It returns false without error
// when the notifier is disabled.
func (n *Notifier) Notify(ctx context.Context, d types.Decision, msg types.Message) (bool, error) {
	if !n.Enabled() {
		n.logger.Info("webhook skipped (URL not configured)")
		return false, nil
	}

	text := NotificationText(d, msg)
	req, err := n.buildRequest(ctx, text, d, msg)
	if err != nil {
		return false, err
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.logger.Info("webhook sent", "mode", n.opts.Mode, "message", msg.ID)
	return true, nil
}

func (n *Notifier) buildRequest(ctx context.Context, text string, d types.Decision, msg types.Message) (*http.Request, error) {
	base := strings.TrimSpace(n.opts.URL)

	switch n.opts.Mode {
	case ModeText:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("creating webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return req, nil

	case ModeURLParam:
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		target := base + sep + queryEscape(n.opts.ParamName) + "=" + queryEscape(text)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("creating webhook request: %w", err)
		}
		return req, nil

	default:
		body, err := json.Marshal(jsonPayload{
			MessageID:        msg.ID,
			Subject:          msg.Subject,
			Sender:           msg.From,
			GeminiOutput:     d,
			NotificationText: text,
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling webhook payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// queryEscape escapes s for a query value with spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

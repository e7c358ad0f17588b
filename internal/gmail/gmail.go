// Package gmail implements mailbox.Mailbox on the Gmail API
// (google.golang.org/api/gmail/v1).
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	gm "google.golang.org/api/gmail/v1"

	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/normalize"
	"github.com/daviddao/mailtriage/internal/types"
)

const user = "me"

// System label ids used for mutations.
const (
	labelUnread  = "UNREAD"
	labelInbox   = "INBOX"
	labelStarred = "STARRED"
)

// Client is a Gmail-backed mailbox. User label ids are resolved by name
// and cached for the lifetime of the client.
type Client struct {
	svc *gm.Service

	mu        sync.Mutex
	labelByID map[string]string
	idByLabel map[string]string
}

var _ mailbox.Mailbox = (*Client)(nil)

// New wraps an authenticated Gmail service.
func New(svc *gm.Service) *Client {
	return &Client{svc: svc}
}

// Profile returns the authenticated account's email address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	p, err := c.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return p.EmailAddress, nil
}

// Search lists threads matching query and fetches each one in full.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]types.Thread, error) {
	call := c.svc.Users.Threads.List(user).Q(query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list threads %q: %w", query, err)
	}
	if len(resp.Threads) == 0 {
		return nil, nil
	}

	names, err := c.labelNames(ctx)
	if err != nil {
		return nil, err
	}

	threads := make([]types.Thread, 0, len(resp.Threads))
	for _, t := range resp.Threads {
		full, err := c.svc.Users.Threads.Get(user, t.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get thread %s: %w", t.Id, err)
		}
		threads = append(threads, toThread(full, names))
	}
	return threads, nil
}

func (c *Client) AddLabel(ctx context.Context, threadID, label string) error {
	id, err := c.labelID(ctx, label)
	if err != nil {
		return err
	}
	return c.modifyThread(ctx, threadID, []string{id}, nil)
}

func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	return c.modifyThread(ctx, threadID, nil, []string{labelUnread})
}

func (c *Client) Archive(ctx context.Context, threadID string) error {
	return c.modifyThread(ctx, threadID, nil, []string{labelInbox})
}

func (c *Client) Trash(ctx context.Context, threadID string) error {
	if _, err := c.svc.Users.Threads.Trash(user, threadID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("trash thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) Star(ctx context.Context, messageID string) error {
	req := &gm.ModifyMessageRequest{AddLabelIds: []string{labelStarred}}
	if _, err := c.svc.Users.Messages.Modify(user, messageID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("star message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) CreateDraft(ctx context.Context, d mailbox.Draft) (string, error) {
	raw, err := buildRaw(d)
	if err != nil {
		return "", fmt.Errorf("build draft for thread %s: %w", d.ThreadID, err)
	}
	draft := &gm.Draft{Message: &gm.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: d.ThreadID,
	}}
	created, err := c.svc.Users.Drafts.Create(user, draft).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create draft for thread %s: %w", d.ThreadID, err)
	}
	return created.Id, nil
}

func (c *Client) modifyThread(ctx context.Context, threadID string, add, remove []string) error {
	req := &gm.ModifyThreadRequest{AddLabelIds: add, RemoveLabelIds: remove}
	if _, err := c.svc.Users.Threads.Modify(user, threadID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("modify thread %s: %w", threadID, err)
	}
	return nil
}

// loadLabels fills the label caches. Callers hold c.mu.
func (c *Client) loadLabels(ctx context.Context) error {
	if c.labelByID != nil {
		return nil
	}
	resp, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	c.labelByID = make(map[string]string, len(resp.Labels))
	c.idByLabel = make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		c.labelByID[l.Id] = l.Name
		c.idByLabel[l.Name] = l.Id
	}
	return nil
}

func (c *Client) labelNames(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLabels(ctx); err != nil {
		return nil, err
	}
	return c.labelByID, nil
}

// labelID returns the id of the named user label, creating it if needed.
func (c *Client) labelID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLabels(ctx); err != nil {
		return "", err
	}
	if id, ok := c.idByLabel[name]; ok {
		return id, nil
	}

	created, err := c.svc.Users.Labels.Create(user, &gm.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %s: %w", name, err)
	}
	c.idByLabel[name] = created.Id
	c.labelByID[created.Id] = name
	return created.Id, nil
}

func toThread(t *gm.Thread, labelNames map[string]string) types.Thread {
	out := types.Thread{ID: t.Id}
	seen := make(map[string]bool)
	for _, m := range t.Messages {
		out.Messages = append(out.Messages, toMessage(m))
		for _, id := range m.LabelIds {
			name := id
			if n, ok := labelNames[id]; ok {
				name = n
			}
			if !seen[name] {
				seen[name] = true
				out.Labels = append(out.Labels, name)
			}
		}
	}
	return out
}

func toMessage(m *gm.Message) types.Message {
	msg := types.Message{ID: m.Id, ThreadID: m.ThreadId}
	if m.Payload == nil {
		return msg
	}

	h := headerMap(m.Payload.Headers)
	msg.From = h["From"]
	msg.To = h["To"]
	msg.CC = h["Cc"]
	msg.Subject = h["Subject"]
	msg.MessageID = h["Message-Id"]
	msg.References = h["References"]

	if d, err := mail.ParseDate(h["Date"]); err == nil {
		msg.Date = d
	} else if m.InternalDate > 0 {
		msg.Date = time.UnixMilli(m.InternalDate)
	}

	msg.PlainBody = findBody(m.Payload, "text/plain")
	msg.HTMLBody = findBody(m.Payload, "text/html")
	if msg.PlainBody == "" && msg.HTMLBody != "" {
		msg.PlainBody = normalize.HTMLToText(msg.HTMLBody)
	}
	return msg
}

// findBody returns the first decoded part of the given mime type,
// searching nested multiparts depth first.
func findBody(part *gm.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
			return decoded
		}
	}
	for _, p := range part.Parts {
		if body := findBody(p, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// headerMap converts Gmail API headers into a map keyed by canonical name.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[textproto.CanonicalMIMEHeaderKey(h.Name)] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url content, padded or not.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

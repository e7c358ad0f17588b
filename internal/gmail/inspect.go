package gmail

import (
	"context"
	"fmt"

	gm "google.golang.org/api/gmail/v1"
)

// MessageSummary is one row of `mt gmail search` output.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// FullMessage is the decoded form printed by `mt gmail read`.
type FullMessage struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"thread_id"`
	MessageID   string           `json:"message_id,omitempty"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	CC          string           `json:"cc,omitempty"`
	Subject     string           `json:"subject"`
	Date        string           `json:"date"`
	Body        string           `json:"body"`
	Labels      []string         `json:"labels,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// AttachmentInfo holds metadata about a message attachment.
type AttachmentInfo struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// SearchMessages finds messages matching a Gmail query and returns
// header summaries. Messages that fail to load are skipped.
func (c *Client) SearchMessages(ctx context.Context, query string, maxResults int64) ([]MessageSummary, error) {
	resp, err := c.svc.Users.Messages.List(user).Q(query).MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	summaries := make([]MessageSummary, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		detail, err := c.svc.Users.Messages.Get(user, m.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			continue
		}

		h := headerMap(detail.Payload.Headers)
		summaries = append(summaries, MessageSummary{
			ID:       detail.Id,
			ThreadID: detail.ThreadId,
			From:     h["From"],
			To:       h["To"],
			Subject:  defaultStr(h["Subject"], "(no subject)"),
			Date:     h["Date"],
			Snippet:  detail.Snippet,
		})
	}
	return summaries, nil
}

// ReadMessage fetches one message with its decoded body and label names.
func (c *Client) ReadMessage(ctx context.Context, messageID string) (*FullMessage, error) {
	m, err := c.svc.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	names, err := c.labelNames(ctx)
	if err != nil {
		return nil, err
	}

	msg := toMessage(m)
	out := &FullMessage{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		MessageID:   msg.MessageID,
		From:        msg.From,
		To:          msg.To,
		CC:          msg.CC,
		Subject:     defaultStr(msg.Subject, "(no subject)"),
		Body:        defaultStr(msg.PlainBody, "(No readable body found)"),
		Attachments: attachments(m.Payload),
	}
	if !msg.Date.IsZero() {
		out.Date = msg.Date.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	}
	for _, id := range m.LabelIds {
		out.Labels = append(out.Labels, defaultStr(names[id], id))
	}
	return out, nil
}

func attachments(payload *gm.MessagePart) []AttachmentInfo {
	if payload == nil {
		return nil
	}
	var out []AttachmentInfo
	var scan func(parts []*gm.MessagePart)
	scan = func(parts []*gm.MessagePart) {
		for _, p := range parts {
			if p.Filename != "" {
				att := AttachmentInfo{Filename: p.Filename, MimeType: p.MimeType}
				if p.Body != nil {
					att.Size = p.Body.Size
				}
				out = append(out, att)
			}
			scan(p.Parts)
		}
	}
	scan(payload.Parts)
	return out
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

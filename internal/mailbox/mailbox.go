// Package mailbox defines the mail provider operations the triage pipeline
// depends on. internal/gmail implements it against the Gmail API and
// mailboxtest provides an in-memory fake.
package mailbox

import (
	"context"

	"github.com/daviddao/mailtriage/internal/types"
)

// Mailbox is the provider boundary. Threads are returned with messages
// ordered oldest first. Label names are user labels and are created on
// first use.
type Mailbox interface {
	Search(ctx context.Context, query string, limit int) ([]types.Thread, error)

	AddLabel(ctx context.Context, threadID, label string) error
	MarkRead(ctx context.Context, threadID string) error
	Archive(ctx context.Context, threadID string) error
	Trash(ctx context.Context, threadID string) error
	Star(ctx context.Context, messageID string) error

	// CreateDraft stores d as an unsent draft in its thread and returns
	// the provider draft id.
	CreateDraft(ctx context.Context, d Draft) (string, error)
}

// Draft is a reply draft ready to be stored by the provider.
type Draft struct {
	ThreadID   string
	To         string
	Cc         string
	Subject    string
	InReplyTo  string
	References string
	HTMLBody   string
}

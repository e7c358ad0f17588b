// Package types defines core data structures for mailtriage.
package types

import (
	"strings"
	"time"
)

// Message is a single mail message as read from the mailbox.
type Message struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	From       string    `json:"from"`
	To         string    `json:"to,omitempty"`
	CC         string    `json:"cc,omitempty"`
	Subject    string    `json:"subject"`
	PlainBody  string    `json:"plain_body,omitempty"`
	HTMLBody   string    `json:"html_body,omitempty"`
	Date       time.Time `json:"date"`
	MessageID  string    `json:"message_id,omitempty"`
	References string    `json:"references,omitempty"`
}

// IsFrom reports whether the sender header contains the given address.
func (m Message) IsFrom(address string) bool {
	if address == "" {
		return false
	}
	return strings.Contains(strings.ToLower(m.From), strings.ToLower(address))
}

// Thread is an ordered conversation, oldest message first.
type Thread struct {
	ID       string    `json:"id"`
	Labels   []string  `json:"labels,omitempty"`
	Messages []Message `json:"messages"`
}

// FirstSubject returns the subject of the oldest message.
func (t Thread) FirstSubject() string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[0].Subject
}

// Latest returns the newest message and false if the thread is empty.
func (t Thread) Latest() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// History returns up to n messages preceding the latest one, oldest first.
func (t Thread) History(n int) []Message {
	if len(t.Messages) < 2 || n <= 0 {
		return nil
	}
	end := len(t.Messages) - 1
	start := end - n
	if start < 0 {
		start = 0
	}
	return t.Messages[start:end]
}

// BatchItem is the model-facing view of one thread within a single run.
// LocalID ("msg_<index>") is only unique inside that run.
type BatchItem struct {
	LocalID     string   `json:"id"`
	From        string   `json:"from"`
	Subject     string   `json:"subject"`
	BodyPreview string   `json:"body_preview"`
	FullBody    string   `json:"full_body,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Ref joins a LocalID back to the mailbox objects it was built from.
type Ref struct {
	Thread  Thread
	Message Message
}

// DraftCandidate is an item stage 1 asked to reply to. Item.FullBody
// carries the cleaned full body rather than the preview.
type DraftCandidate struct {
	Item BatchItem
	Ref  Ref
}

// ActiveContext is the cached summary of recent mailbox activity.
type ActiveContext struct {
	TriageContext   string `json:"triageContext"`
	DraftingContext string `json:"draftingContext"`
}

// Importance is the stage 1 classification of a message.
type Importance string

// Importance values.
const (
	ImportanceArchive Importance = "ARCHIVE"
	ImportanceBlock   Importance = "BLOCK"
	ImportanceStar    Importance = "STAR"
	ImportanceNeither Importance = "NEITHER"
	ImportanceUnsure  Importance = "UNSURE"
)

// ValidImportances is the set of allowed importance values.
var ValidImportances = []Importance{
	ImportanceArchive, ImportanceBlock, ImportanceStar, ImportanceNeither, ImportanceUnsure,
}

// ParseImportance normalizes a model-supplied importance string.
// Unknown or empty values map to NEITHER.
func ParseImportance(s string) (Importance, bool) {
	candidate := Importance(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range ValidImportances {
		if v == candidate {
			return v, true
		}
	}
	return ImportanceNeither, false
}

// Decision is the validated stage 1 result for one item.
type Decision struct {
	Importance       Importance `json:"importance"`
	DraftReply       bool       `json:"draft_reply"`
	Notify           bool       `json:"notify"`
	NotificationText string     `json:"notification_text,omitempty"`
	Reason           string     `json:"reason"`
}

// DraftResult is the validated stage 2 result for one item.
type DraftResult struct {
	DraftText string `json:"draft_text"`
	Reason    string `json:"reason"`
}

// LabelName identifies one of the output labels the pipeline applies.
type LabelName string

// Label taxonomy.
const (
	LabelArchive LabelName = "ARCHIVE"
	LabelBlock   LabelName = "BLOCK"
	LabelStar    LabelName = "STAR"
	LabelNotify  LabelName = "NOTIFY"
	LabelDraft   LabelName = "DRAFT"
	LabelUnsure  LabelName = "UNSURE"
)

// RunOutcome describes how a run ended.
type RunOutcome string

// Run outcomes.
const (
	OutcomeCommitted RunOutcome = "committed"
	OutcomeEmpty     RunOutcome = "empty"
	OutcomeDeferred  RunOutcome = "deferred"
	OutcomeAborted   RunOutcome = "aborted"
)

// RunSummary holds the result of one runOnce invocation.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Outcome         RunOutcome    `json:"outcome"`
	Watermark       int64         `json:"watermark"`
	Threads         int           `json:"threads"`
	Decisions       int           `json:"decisions"`
	DraftsRequested int           `json:"drafts_requested"`
	DraftsCreated   int           `json:"drafts_created"`
	Notifications   int           `json:"notifications"`
	Items           []ItemOutcome `json:"items,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// ItemOutcome records what stage 1 did with one thread.
type ItemOutcome struct {
	ThreadID   string     `json:"thread_id"`
	From       string     `json:"from"`
	Subject    string     `json:"subject"`
	Importance Importance `json:"importance"`
	Notified   bool       `json:"notified,omitempty"`
	Draft      bool       `json:"draft,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

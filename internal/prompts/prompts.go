// Package prompts holds the system prompts for both model stages and
// renders the per-batch user prompts.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/daviddao/mailtriage/internal/types"
)

// Triage is the stage 1 system prompt.
const Triage = `You are an executive email triage assistant. Your goal is to review incoming mail and decide actions.

ASSESSMENT 1: IMPORTANCE (Pick ONE)
- ARCHIVE: Low value, newsletters, cold outreach, or irrelevant notifications.
- BLOCK: Obvious spam or malicious.
- STAR: High priority. Needs to be read.
- NEITHER: Normal priority, read later.
- UNSURE: You are truly uncertain.

ASSESSMENT 2: DRAFT REPLY (Boolean)
- Set to TRUE if the email requests a response from me specifically.
- IGNORE if Importance is ARCHIVE or BLOCK.

ASSESSMENT 3: NOTIFY (Boolean)
- Set to TRUE if extremely urgent or time-sensitive.
- IGNORE if Importance is ARCHIVE or BLOCK.

HIGH PRIORITY INDICATORS:
- Related to a sales proposal, discovery meeting, or presentation
- Issues with clients, including billing, delivery failures
- Tone that may represent dissatisfaction, anger, frustration
- Time sensitive requests for information or action
- Requests for digital signatures (star, do not reply)

INPUT DATA:
1. Active Contexts: Recent projects and recent contacts.
2. Incoming Email: The sender, subject, and preview.

OUTPUT FORMAT:
Return strictly JSON:
{
  "msg_id": {
    "importance": "ARCHIVE" | "BLOCK" | "STAR" | "NEITHER" | "UNSURE",
    "draft_reply": true | false,
    "notify": true | false,
    "notification_text": "Short alert text if notify is true",
    "reason": "Short explanation of your decisions"
  }
}`

const drafting = `You are an executive email triage assistant. Your goal is to DRAFT REPLIES for the provided emails.

VOICE & TONE GUIDELINES:
- MIMIC THE USER: Use the provided "Writing Style Examples" as your guide.
- Speak as an executive strategic consultant who balances efficiency with warmth.
- Write in micro-paragraphs (strictly 1-3 sentences max) separated by white space to ensure immediate scannability. Avoid walls of text.
- Tone: Be direct but low-friction. Use polite softeners to maintain a human connection, but get straight to the business value or blocker.
  - The Hook: State the update, "good news," or blocker immediately.
  - The Details: If technical, keep it high-level and punchy; link to external resources for deep dives.
  - The Close: Always end with a specific next step, approval request ("Please advise"), or time proposal.
  - Sign-off: "Best," followed by two line breaks and then %s.
- PROFESSIONALISM: Use standard capitalization and punctuation.
- NO AI TELLTALES: Do NOT use words like "delve", "tapestry", "complex landscape", "ensure", "kindly".
- BE BRIEF: Executives write short, direct emails. No fluff. 8th grade reading level.
- NO WEIRD FORMATTING: Do not use bold/markdown in the email body unless explicitly necessary.

OUTPUT FORMAT:
Return strictly JSON:
{
  "msg_id": {
    "draft_text": "The draft reply body",
    "reason": "Reason for the drafted text"
  }
}`

// Drafting returns the stage 2 system prompt signed with ownerName.
func Drafting(ownerName string) string {
	sign := "my first name"
	if name := strings.TrimSpace(ownerName); name != "" {
		sign = fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf(drafting, sign)
}

const separator = "--------------------------------------------------"

// TriageUser renders the stage 1 user prompt for a batch.
func TriageUser(activeContext string, items []types.BatchItem) string {
	var b strings.Builder
	b.WriteString("ACTIVE CONTEXT (What is important to me right now):\n")
	b.WriteString(orNone(activeContext))
	fmt.Fprintf(&b, "\n\nINCOMING EMAILS TO TRIAGE (%d items):\n", len(items))
	for i, it := range items {
		fmt.Fprintf(&b, "\nEMAIL #%d (ID: %s):\n", i, it.LocalID)
		fmt.Fprintf(&b, "From: %s\n", it.From)
		fmt.Fprintf(&b, "Subject: %s\n", it.Subject)
		fmt.Fprintf(&b, "Labels: %s\n", labels(it.Labels))
		fmt.Fprintf(&b, "Body: %s\n", it.BodyPreview)
		b.WriteString(separator + "\n")
	}
	b.WriteString(`
INSTRUCTIONS:
Review each email against the Active Context.
Return a JSON object where the keys are the "ID" provided above (e.g. "msg_0") and the values are the decision objects.
USE THE OUTPUT FORMAT DEFINED IN THE SYSTEM PROMPT.`)
	return b.String()
}

// HistoryMessage is one earlier message shown to the drafting stage.
type HistoryMessage struct {
	From string
	Date time.Time
	Body string
}

// DraftEntry is one email needing a reply, with its earlier messages.
type DraftEntry struct {
	Item    types.BatchItem
	History []HistoryMessage
}

// DraftUser renders the stage 2 user prompt.
func DraftUser(draftingContext string, entries []DraftEntry) string {
	var b strings.Builder
	b.WriteString("CONTEXT (My voice and what I am working on):\n")
	b.WriteString(orNone(draftingContext))
	fmt.Fprintf(&b, "\n\nEMAILS NEEDING A REPLY (%d items):\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\nEMAIL #%d (ID: %s):\n", i, e.Item.LocalID)
		fmt.Fprintf(&b, "From: %s\n", e.Item.From)
		fmt.Fprintf(&b, "Subject: %s\n", e.Item.Subject)
		fmt.Fprintf(&b, "Body: %s\n", e.Item.FullBody)
		if len(e.History) > 0 {
			b.WriteString("EARLIER IN THIS THREAD (oldest first):\n")
			for _, h := range e.History {
				fmt.Fprintf(&b, "- From: %s", h.From)
				if !h.Date.IsZero() {
					fmt.Fprintf(&b, " (%s)", h.Date.Format(time.RFC1123Z))
				}
				fmt.Fprintf(&b, "\n  %s\n", strings.ReplaceAll(h.Body, "\n", "\n  "))
			}
		}
		b.WriteString(separator + "\n")
	}
	b.WriteString(`
INSTRUCTIONS:
Write a reply to each email above in my voice.
Return a JSON object where the keys are the "ID" provided above and the values are the draft objects.
USE THE OUTPUT FORMAT DEFINED IN THE SYSTEM PROMPT.`)
	return b.String()
}

func labels(l []string) string {
	if len(l) == 0 {
		return "(None)"
	}
	return strings.Join(l, ", ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(None)"
	}
	return s
}

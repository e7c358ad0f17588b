// Package normalize cleans raw message bodies and subjects before they are
// handed to the model.
package normalize

import (
	"regexp"
	"strings"
)

var (
	quotedTailRe    = regexp.MustCompile(`On .* wrote:(?s:.*)$`)
	quoteLineRe     = regexp.MustCompile(`(?m)^>.*$`)
	forwardHeaderRe = regexp.MustCompile(`From:.*(?s:.*?)Subject:.*`)
	signatureRe     = regexp.MustCompile(`(?m)^--[ \t]*$`)
	blankLinesRe    = regexp.MustCompile(`\n\s*\n`)

	subjectPrefixRe = regexp.MustCompile(`(?i)^\s*(?:re:|fwd:|fw:|sand:|invitation:|accepted:|declined:|updated invitation:|canceled event:|synced invitation:|\[external\])\s*`)
	calendarTimeRe  = regexp.MustCompile(`\s@\s\w{3}\s\w{3}\s\d{1,2},.*$`)
)

// Clean strips quoted replies, quote-marked lines, forwarded headers and
// signatures from body, collapses runs of blank lines, trims, and cuts the
// result to maxChars runes. maxChars <= 0 disables the cut.
func Clean(body string, maxChars int) string {
	s := strings.ReplaceAll(body, "\r\n", "\n")
	s = quotedTailRe.ReplaceAllString(s, "")
	s = quoteLineRe.ReplaceAllString(s, "")
	s = forwardHeaderRe.ReplaceAllString(s, "")
	if loc := signatureRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	return Truncate(s, maxChars)
}

// Truncate cuts s to at most maxChars runes. The cut is not word-aware.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}

var calendarSubjectMarkers = []string{
	"invitation:",
	"accepted:",
	"declined:",
	"canceled event:",
	"updated invitation:",
	"synced invitation:",
}

var calendarBodyMarkers = []string{
	"invite.ics",
	"google.com/calendar/event",
	"View all guest info",
}

// IsCalendarInvite reports whether a message looks like calendar traffic.
func IsCalendarInvite(subject, body string) bool {
	s := strings.ToLower(subject)
	for _, m := range calendarSubjectMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	for _, m := range calendarBodyMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// CleanSubject removes reply, forward and calendar prefixes (up to five
// rounds) and a trailing calendar time suffix.
func CleanSubject(subject string) string {
	cleaned := subject
	for i := 0; i < 5 && subjectPrefixRe.MatchString(cleaned); i++ {
		cleaned = subjectPrefixRe.ReplaceAllString(cleaned, "")
	}
	cleaned = calendarTimeRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// IsExcluded reports whether address contains any excluded substring,
// case-insensitively. An empty address is always excluded.
func IsExcluded(address string, excluded []string) bool {
	if strings.TrimSpace(address) == "" {
		return true
	}
	lower := strings.ToLower(address)
	for _, e := range excluded {
		if e == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

package llm

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/daviddao/mailtriage/internal/types"
)

// ParseDecisions validates raw stage 1 entries. Entries that are not JSON
// objects are dropped; missing or mistyped fields take their zero value
// and an unknown importance becomes NEITHER.
func ParseDecisions(raw map[string]json.RawMessage, logger *log.Logger) map[string]types.Decision {
	out := make(map[string]types.Decision, len(raw))
	for id, v := range raw {
		r := gjson.ParseBytes(v)
		if !r.IsObject() {
			logger.Warn("dropping non-object decision", "id", id, "value", string(v))
			continue
		}
		imp, ok := types.ParseImportance(str(r.Get("importance")))
		if !ok && r.Get("importance").Exists() {
			logger.Warn("unknown importance, using NEITHER", "id", id, "importance", r.Get("importance").String())
		}
		out[id] = types.Decision{
			Importance:       imp,
			DraftReply:       boolean(r.Get("draft_reply")),
			Notify:           boolean(r.Get("notify")),
			NotificationText: str(r.Get("notification_text")),
			Reason:           str(r.Get("reason")),
		}
	}
	return out
}

// ParseDrafts validates raw stage 2 entries.
func ParseDrafts(raw map[string]json.RawMessage, logger *log.Logger) map[string]types.DraftResult {
	out := make(map[string]types.DraftResult, len(raw))
	for id, v := range raw {
		r := gjson.ParseBytes(v)
		if !r.IsObject() {
			logger.Warn("dropping non-object draft", "id", id, "value", string(v))
			continue
		}
		out[id] = types.DraftResult{
			DraftText: str(r.Get("draft_text")),
			Reason:    str(r.Get("reason")),
		}
	}
	return out
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

func boolean(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.String:
		return strings.EqualFold(strings.TrimSpace(r.Str), "true")
	default:
		return false
	}
}

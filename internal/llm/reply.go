package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json|JSON)?[ \t]*\r?\n?")
	fenceCloseRe = regexp.MustCompile("\r?\n?```[ \t]*$")
)

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type replyShape int

const (
	shapeObject replyShape = iota
	shapeArray
)

// reply is the model output in one of its two accepted shapes: an object
// keyed by local id, or an array of objects each holding some of the keys.
type reply struct {
	shape  replyShape
	object map[string]json.RawMessage
	array  []map[string]json.RawMessage
}

func decodeReply(text string) (reply, error) {
	text = stripFence(text)
	if text == "" {
		return reply{}, fmt.Errorf("empty reply")
	}

	switch text[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return reply{}, fmt.Errorf("decode object reply: %w", err)
		}
		return reply{shape: shapeObject, object: obj}, nil
	case '[':
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &arr); err != nil {
			return reply{}, fmt.Errorf("decode array reply: %w", err)
		}
		return reply{shape: shapeArray, array: arr}, nil
	default:
		return reply{}, fmt.Errorf("reply is neither a JSON object nor an array")
	}
}

// flatten merges the array shape into one map. Later entries overwrite
// earlier ones on duplicate keys.
func (r reply) flatten() map[string]json.RawMessage {
	if r.shape == shapeObject {
		if r.object == nil {
			return map[string]json.RawMessage{}
		}
		return r.object
	}
	out := make(map[string]json.RawMessage)
	for _, item := range r.array {
		for k, v := range item {
			out[k] = v
		}
	}
	return out
}

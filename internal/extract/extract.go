// Package extract locates and parses the structured payload embedded in
// free-form agent output. It is called on every poll tick, so absence of a
// parseable payload is an expected state, not an error: every function here
// is total and reports misses through its boolean return.
package extract

import (
	"encoding/json"
	"strings"
)

// Payload scans raw text for a single JSON object carrying markerKey.
// Markdown code fences are stripped first, then the span from the first
// '{' to the last '}' is parsed. Returns (nil, false) on any miss:
// no braces, malformed JSON, a non-object value, or a parsed object that
// lacks the marker key (the agent may emit unrelated JSON mid-run).
func Payload(raw, markerKey string) (json.RawMessage, bool) {
	text := stripFences(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	span := text[start : end+1]

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, false
	}
	if _, ok := obj[markerKey]; !ok {
		return nil, false
	}
	return json.RawMessage(span), true
}

// stripFences removes markdown code-fence markers so the brace scan sees
// only the fenced content plus surrounding prose.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	text = strings.ReplaceAll(text, "```json", "\n")
	return strings.ReplaceAll(text, "```", "\n")
}

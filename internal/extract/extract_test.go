package extract

import (
	"encoding/json"
	"testing"
)

func TestPayloadPlainObject(t *testing.T) {
	raw := `{"items": [{"title": "a"}]}`
	got, ok := Payload(raw, "items")
	if !ok {
		t.Fatal("Payload missed a valid object")
	}
	if string(got) != raw {
		t.Errorf("Payload = %s, want %s", got, raw)
	}
}

func TestPayloadFencedObject(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"categories\": []}\n```\nDone."
	got, ok := Payload(raw, "categories")
	if !ok {
		t.Fatal("Payload missed fenced object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(got, &obj); err != nil {
		t.Fatalf("returned span is not valid JSON: %v", err)
	}
	if _, ok := obj["categories"]; !ok {
		t.Error("marker key missing from parsed payload")
	}
}

func TestPayloadSurroundingProse(t *testing.T) {
	raw := `I searched five sources. {"papers": [{"title": "x"}]} Let me know if you need more.`
	if _, ok := Payload(raw, "papers"); !ok {
		t.Error("Payload missed object embedded in prose")
	}
}

func TestPayloadMarkerKeyAbsent(t *testing.T) {
	// Valid JSON, wrong shape: the agent emitted reasoning, not the payload.
	raw := `{"thinking": "still gathering sources"}`
	if _, ok := Payload(raw, "items"); ok {
		t.Error("Payload accepted object without marker key")
	}
}

// Payload must be total: arbitrary junk reports a miss, never panics.
func TestPayloadTotal(t *testing.T) {
	inputs := []string{
		"",
		"no braces at all",
		"{",
		"}",
		"}{",
		"{not json}",
		"[1, 2, 3]",
		"```json\n```",
		`"a bare string"`,
		"{\"unclosed\": ",
		"text { mid } text { another",
	}
	for _, in := range inputs {
		if _, ok := Payload(in, "items"); ok {
			t.Errorf("Payload(%q) reported a match", in)
		}
	}
}

func TestPayloadIdempotent(t *testing.T) {
	raw := "```json\n{\"items\": [1]}\n```"
	first, ok1 := Payload(raw, "items")
	second, ok2 := Payload(raw, "items")
	if ok1 != ok2 || string(first) != string(second) {
		t.Error("Payload is not idempotent")
	}
}

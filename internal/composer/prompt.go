// Package composer builds the natural-language task instruction handed to
// the agent gateway. The instruction carries the feature's output schema
// contract, the search budget, and the emit-JSON-first ordering rule; the
// agent's own completion is the scarce resource under the poll budget, so
// the payload must come out before any optional follow-up work.
package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/briefly/internal/feature"
)

// ErrEmptyTopic is returned when the topic is empty after trimming.
var ErrEmptyTopic = errors.New("topic must not be empty")

// disambiguations maps lowercased terms that commonly confuse search
// agents to a clarifying hint appended to the instruction.
var disambiguations = map[string]string{
	"mercury":         "the term is ambiguous; prefer the most newsworthy sense unless the topic text narrows it",
	"python":          "interpret as the programming language unless the topic clearly means otherwise",
	"go":              "interpret as the programming language unless the topic clearly means otherwise",
	"amazon":          "interpret as the company unless the topic clearly means the river or region",
	"alphabet":        "interpret as the company (Google's parent) unless the topic clearly means otherwise",
	"federal reserve": "cover the central bank's policy and communications, not regional bank trivia",
}

// Build assembles the full task instruction for one submission. The topic
// is trimmed and required; params must already be normalized by the
// feature. When requestKey is non-empty the agent is told to echo it
// verbatim inside the payload object.
func Build(f feature.Feature, topic string, p feature.Params, requestKey string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrEmptyTopic
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Research the topic %q.\n\n", topic)
	sb.WriteString(scopeLine(f, p))

	if hint := hintFor(topic); hint != "" {
		fmt.Fprintf(&sb, "Disambiguation: %s.\n", hint)
	}

	fmt.Fprintf(&sb, "\nYou may run at most %d external searches while working on this task.\n", f.SearchBudget)

	sb.WriteString("\nOutput contract:\n")
	fmt.Fprintf(&sb, "Respond with a single JSON object matching this schema exactly: %s\n", f.Schema)
	fmt.Fprintf(&sb, "The object must contain the %q key.\n", f.MarkerKey)
	if requestKey != "" {
		fmt.Fprintf(&sb, "Include the field \"request_key\": %q verbatim in the object.\n", requestKey)
	}

	sb.WriteString("\nEmit the JSON object immediately once your findings are ready. ")
	sb.WriteString("Any secondary bookkeeping or persistence is optional and must come after the JSON, never before.\n")

	return sb.String(), nil
}

func scopeLine(f feature.Feature, p feature.Params) string {
	switch f.Name {
	case "curation":
		return fmt.Sprintf("Curate exactly %d current, high-quality items on the topic, grouped into categories.\n", p.Count)
	case "window":
		return fmt.Sprintf("Cover the most significant developments from the last %d days only, grouped by category, with key takeaways.\n", p.Days)
	case "whitepapers":
		return fmt.Sprintf("Find up to %d substantial white papers or research publications on the topic, most relevant first.\n", p.Count)
	case "onepager":
		return "Produce a one-page brief: a handful of sections a reader can absorb in two minutes, with sources.\n"
	default:
		return ""
	}
}

func hintFor(topic string) string {
	lower := strings.ToLower(topic)
	for term, hint := range disambiguations {
		if term == lower || containsWord(lower, term) {
			return hint
		}
	}
	return ""
}

// containsWord reports whether term appears in text on word boundaries,
// so "go" does not match "governance".
func containsWord(text, term string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		leftOK := start == 0 || !isWordChar(text[start-1])
		rightOK := end == len(text) || !isWordChar(text[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// Package feature defines the research features served by the pipeline:
// their payload contract (marker key plus the schema text embedded into the
// task prompt) and per-feature parameter validation.
package feature

import (
	"fmt"
)

// Feature describes one research feature's extraction spec.
type Feature struct {
	Name         string
	MarkerKey    string // schema-identifying key that must appear in a valid payload
	SearchBudget int    // upper bound on external searches the agent may run
	Schema       string // output contract, embedded verbatim into the prompt
}

// Params are the feature-specific knobs for a single submission. Zero
// values mean "use the feature default"; Normalize fills them in.
type Params struct {
	Count int `json:"count,omitempty"` // curation item count / whitepapers paper count
	Days  int `json:"days,omitempty"`  // window day span
}

const defaultSearchBudget = 6

var registry = map[string]Feature{
	"curation": {
		Name:         "curation",
		MarkerKey:    "items",
		SearchBudget: defaultSearchBudget,
		Schema: `{"items": [{"title": string, "url": string, "category": string, "summary": string}]}` +
			`; "items" holds exactly the requested number of entries, grouped by category.`,
	},
	"window": {
		Name:         "window",
		MarkerKey:    "categories",
		SearchBudget: defaultSearchBudget,
		Schema: `{"categories": [{"name": string, "developments": [string]}], "key_takeaways": [string]}` +
			`; "categories" groups developments from the requested day window.`,
	},
	"whitepapers": {
		Name:         "whitepapers",
		MarkerKey:    "papers",
		SearchBudget: defaultSearchBudget,
		Schema: `{"papers": [{"title": string, "authors": [string], "url": string, "abstract": string}]}` +
			`; "papers" holds up to the requested number of papers, most relevant first.`,
	},
	"onepager": {
		Name:         "onepager",
		MarkerKey:    "sections",
		SearchBudget: defaultSearchBudget,
		Schema: `{"sections": [{"heading": string, "body": string}], "sources": [string]}` +
			`; "sections" reads top to bottom as a single one-page brief.`,
	},
}

// Lookup returns the feature registered under name.
func Lookup(name string) (Feature, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the registered feature names. Order is not specified.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Normalize validates p against the feature's constraints and fills in
// defaults for zero values.
func (f Feature) Normalize(p Params) (Params, error) {
	switch f.Name {
	case "curation":
		if p.Count == 0 {
			p.Count = 16
		}
		if p.Count < 0 || p.Count%4 != 0 {
			return Params{}, fmt.Errorf("item count must be a positive multiple of 4, got %d", p.Count)
		}
	case "window":
		if p.Days == 0 {
			p.Days = 30
		}
		if p.Days < 1 || p.Days > 365 {
			return Params{}, fmt.Errorf("day window must be between 1 and 365, got %d", p.Days)
		}
	case "whitepapers":
		if p.Count == 0 {
			p.Count = 5
		}
		if p.Count < 1 || p.Count > 20 {
			return Params{}, fmt.Errorf("paper count must be between 1 and 20, got %d", p.Count)
		}
	}
	return p, nil
}

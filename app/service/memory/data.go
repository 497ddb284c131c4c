package memory

import (
	"strings"
)

const (
	// FoundMarker opens every knowledge base answer that has results.
	FoundMarker = "Knowledge base results:"
	// NotFoundText is the answer when nothing matched.
	NotFoundText = "No knowledge base entries matched."
)

// Entity is what the knowledge graph holds about one node.
type Entity struct {
	Name     string
	Category string
	Facts    []string
}

// Passage is a matching excerpt of a knowledge document.
type Passage struct {
	Source string
	Text   string
	Score  float32
}

type SearchResult struct {
	Entities []*Entity
	Passages []Passage
}

func (r SearchResult) Empty() bool {
	return len(r.Entities) == 0 && len(r.Passages) == 0
}

// Format renders the result for the model, FoundMarker first.
func (r SearchResult) Format() string {
	if r.Empty() {
		return NotFoundText
	}

	var b strings.Builder
	b.WriteString(FoundMarker + "\n")

	for _, e := range r.Entities {
		b.WriteString("\n" + e.Name)
		if e.Category != "" {
			b.WriteString(" (" + e.Category + ")")
		}
		b.WriteString("\n")
		for _, f := range e.Facts {
			b.WriteString("- " + f + "\n")
		}
	}

	for _, p := range r.Passages {
		b.WriteString("\n[" + p.Source + "]\n" + p.Text + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

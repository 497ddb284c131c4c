package graph

import (
	"regexp"
	"strings"

	"hearth/app/service/room"
)

// Chunk groups consecutive log entries into windows of size entries and
// renders each window as "Name: text" lines.
func Chunk(entries []room.Entry, size int) []string {
	if size <= 0 {
		size = 1
	}

	var chunks []string
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		chunks = append(chunks, Render(entries[start:end]))
	}

	return chunks
}

// Render formats entries as "Name: text" lines.
func Render(entries []room.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = string(e.Speaker)
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(e.Text))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// findChunk returns the first chunk mentioning both names as whole words.
func findChunk(chunks []string, a, b string) string {
	reA := wholeWord(a)
	reB := wholeWord(b)
	for _, c := range chunks {
		if reA.MatchString(c) && reB.MatchString(c) {
			return c
		}
	}
	return ""
}

func wholeWord(name string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(name) + `($|[^\p{L}\p{N}_])`)
}

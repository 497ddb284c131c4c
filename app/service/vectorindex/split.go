package vectorindex

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Split cuts text into passages on headings and blank lines, merging small
// blocks up to about target bytes and hard-splitting blocks above maxSize.
func Split(text string, target, maxSize int) []string {
	if target <= 0 {
		target = DefaultTargetSize
	}
	if maxSize < target {
		maxSize = max(DefaultMaxSize, target)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	var blocks []string
	var current []string
	flush := func() {
		if b := strings.TrimSpace(strings.Join(current, "\n")); b != "" {
			blocks = append(blocks, b)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "#"):
			flush()
			current = append(current, line)
		case strings.TrimSpace(line) == "":
			flush()
		default:
			current = append(current, line)
		}
	}
	flush()

	var passages []string
	var buf strings.Builder
	emit := func() {
		if buf.Len() > 0 {
			passages = append(passages, buf.String())
			buf.Reset()
		}
	}

	for _, b := range blocks {
		for len(b) > maxSize {
			cut := strings.LastIndexAny(b[:maxSize], "\n.!? ")
			if cut <= 0 {
				cut = maxSize - 1
				for cut > 0 && !utf8.RuneStart(b[cut+1]) {
					cut--
				}
			}
			emit()
			passages = append(passages, strings.TrimSpace(b[:cut+1]))
			b = strings.TrimSpace(b[cut+1:])
		}
		if b == "" {
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(b)+2 > target {
			emit()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(b)
	}
	emit()

	return passages
}

// Package jsonx cleans up JSON payloads produced by language models.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/samber/oops"
)

var fencedRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// Sanitize strips control characters other than newline and tab.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Payload returns the JSON part of a model reply: the first fenced block if
// there is one, otherwise the span from the first opening bracket to the last
// matching closing bracket.
func Payload(s string) string {
	s = Sanitize(s)

	if m := fencedRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}

	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}

	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}

	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}

	return s[start : end+1]
}

// Decode extracts the payload from a model reply and unmarshals it into v.
func Decode(reply string, v any) error {
	payload := Payload(reply)
	if payload == "" {
		return oops.Errorf("empty json payload")
	}

	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return oops.With("payload", truncate(payload, 200)).Wrapf(err, "invalid json")
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

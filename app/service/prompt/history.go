package prompt

import (
	"fmt"
	"strings"
	"time"

	"hearth/app/client/llm"
	"hearth/app/service/room"
)

// Window returns the tail of the log holding the last turns user messages
// and everything after the first of them. System messages right before
// that user message are kept with it.
func Window(entries []room.Entry, turns int) []room.Entry {
	if turns <= 0 || len(entries) == 0 {
		return nil
	}

	start := len(entries)
	seen := 0
	for i := len(entries) - 1; i >= 0; i-- {
		start = i
		if entries[i].Speaker == room.SpeakerUser {
			seen++
			if seen == turns {
				break
			}
		}
	}

	for start > 0 && entries[start-1].Speaker == room.SpeakerSystem && seen == turns {
		start--
	}

	return entries[start:]
}

// OldestTime is the earliest timestamp visible in the window.
func OldestTime(window []room.Entry) time.Time {
	for _, e := range window {
		if !e.Time.IsZero() {
			return e.Time
		}
	}
	return time.Time{}
}

// Messages turns the window into model conversation messages. Consecutive
// entries of the same role are merged.
func Messages(window []room.Entry, settings room.Settings) []llm.Message {
	var out []llm.Message

	for _, e := range window {
		role := llm.RoleUser
		text := e.Text

		switch e.Speaker {
		case room.SpeakerAgent:
			role = llm.RoleModel
		case room.SpeakerSystem:
			text = "[System] " + text
		default:
			name := e.Name
			if name == "" {
				name = settings.UserName
			}
			text = name + ": " + text
		}

		if !e.Time.IsZero() && e.Speaker != room.SpeakerAgent {
			text = fmt.Sprintf("(%s) %s", formatTime(e.Time), text)
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Text += "\n\n" + text
			continue
		}
		out = append(out, llm.Message{Role: role, Text: text})
	}

	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(room.TimeLayout)
}

func bullet(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("- " + strings.TrimSpace(l) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

package room

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"
)

type Speaker string

const (
	SpeakerUser   Speaker = "USER"
	SpeakerAgent  Speaker = "AGENT"
	SpeakerSystem Speaker = "SYSTEM"
)

// TimeLayout is the timestamp line closing a chat log entry.
const TimeLayout = "2006-01-02 (Mon) 15:04:05"

// Entry is one message of the chat log.
type Entry struct {
	Speaker Speaker
	Name    string
	Text    string
	Time    time.Time
}

var (
	headerRe    = regexp.MustCompile(`^## (USER|AGENT|SYSTEM)(?::(.*?))?:?\s*$`)
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \([A-Z][a-z]{2}\) \d{2}:\d{2}:\d{2}$`)
)

// ParseLog splits chat log text into entries. Lines before the first header
// are ignored; "## " lines that are not role headers belong to the body.
func ParseLog(text string) []Entry {
	var entries []Entry
	var body []string
	var current *Entry

	flush := func() {
		if current == nil {
			return
		}
		current.Text, current.Time = splitTimestamp(body)
		entries = append(entries, *current)
		current, body = nil, nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Entry{Speaker: Speaker(m[1]), Name: strings.TrimSpace(m[2])}
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()

	return entries
}

func splitTimestamp(body []string) (string, time.Time) {
	text := strings.TrimSpace(strings.Join(body, "\n"))

	lines := strings.Split(text, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !timestampRe.MatchString(last) {
		return text, time.Time{}
	}

	ts, err := time.ParseInLocation(TimeLayout, last, time.Local)
	if err != nil {
		return text, time.Time{}
	}

	return strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n")), ts
}

// Format renders one entry the way ParseLog reads it back.
func (e Entry) Format() string {
	var b strings.Builder

	b.WriteString("## ")
	b.WriteString(string(e.Speaker))
	if e.Name != "" {
		b.WriteString(":")
		b.WriteString(e.Name)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(e.Text))
	b.WriteString("\n")

	if !e.Time.IsZero() {
		b.WriteString("\n")
		b.WriteString(e.Time.Format(TimeLayout))
		b.WriteString("\n")
	}

	b.WriteString("\n")

	return b.String()
}

// Append adds entries to the end of the chat log.
func (r *Room) Append(entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.Path(ChatLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return oops.In("room").With("room", r.name).Wrapf(err, "open chat log")
	}
	defer f.Close()

	for _, e := range entries {
		if _, err = f.WriteString(e.Format()); err != nil {
			return oops.In("room").With("room", r.name).Wrapf(err, "append chat log")
		}
	}

	return nil
}

// Log returns every entry of the live chat log.
func (r *Room) Log() ([]Entry, error) {
	text, err := r.Read(ChatLog)
	if err != nil {
		return nil, err
	}
	return ParseLog(text), nil
}

package editor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

const (
	OpReplace     = "replace"
	OpDelete      = "delete"
	OpInsertAfter = "insert_after"
)

// Instruction is one line edit. Line numbers are 1-based and always refer
// to the file as it was before any instruction of the batch; insert_after
// line 0 inserts at the top.
type Instruction struct {
	Op      string `json:"op"`
	Line    int    `json:"line"`
	Content string `json:"content,omitempty"`
}

const stampLayout = "2006-01-02 15:04"

var stampRe = regexp.MustCompile(`^\s*\[\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?\]`)

// Stamper prefixes lines with a timestamp. A nil Stamper leaves lines as
// they are.
type Stamper func(line string) string

// TimestampAt tags non-blank lines that carry no timestamp yet.
func TimestampAt(t time.Time) Stamper {
	prefix := "[" + t.Format(stampLayout) + "] "
	return func(line string) string {
		if strings.TrimSpace(line) == "" || stampRe.MatchString(line) {
			return line
		}
		return prefix + line
	}
}

func (s Stamper) lines(content string) []string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if s == nil {
		return lines
	}
	for i, l := range lines {
		lines[i] = s(l)
	}
	return lines
}

// ApplyLineDiff applies a batch of instructions to lines. Replacements and
// deletions are planned per original line, insertions queued after it, and
// the original lines are walked once so no instruction shifts another.
func ApplyLineDiff(lines []string, batch []Instruction, stamp Stamper) ([]string, error) {
	type edit struct {
		deleted bool
		replace []string
	}

	edits := map[int]*edit{}
	inserts := map[int][]string{}

	for i, in := range batch {
		switch in.Op {
		case OpReplace, OpDelete:
			if in.Line < 1 || in.Line > len(lines) {
				return nil, oops.With("instruction", i, "line", in.Line, "lines", len(lines)).Errorf("%s: line out of range", in.Op)
			}
			if _, dup := edits[in.Line]; dup {
				return nil, oops.With("instruction", i, "line", in.Line).Errorf("line %d edited twice", in.Line)
			}
			if in.Op == OpDelete {
				edits[in.Line] = &edit{deleted: true}
			} else {
				edits[in.Line] = &edit{replace: stamp.lines(in.Content)}
			}
		case OpInsertAfter:
			if in.Line < 0 || in.Line > len(lines) {
				return nil, oops.With("instruction", i, "line", in.Line, "lines", len(lines)).Errorf("insert_after: line out of range")
			}
			inserts[in.Line] = append(inserts[in.Line], stamp.lines(in.Content)...)
		default:
			return nil, oops.With("instruction", i).Errorf("unknown op %q", in.Op)
		}
	}

	out := make([]string, 0, len(lines)+len(inserts))
	out = append(out, inserts[0]...)

	for i, line := range lines {
		n := i + 1
		switch e := edits[n]; {
		case e == nil:
			out = append(out, line)
		case e.deleted:
		default:
			out = append(out, e.replace...)
		}
		out = append(out, inserts[n]...)
	}

	return out, nil
}

// Numbered renders content with 1-based line numbers for the model.
func Numbered(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(strconv.Itoa(i+1) + ": " + l + "\n")
	}
	return b.String()
}

// SplitLines splits file content into lines, without a phantom last line
// for a trailing newline.
func SplitLines(content string) []string {
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

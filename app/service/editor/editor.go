// Package editor applies planned edits to a room's documents: the model
// first states an intent, then writes a diff against the numbered file.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hearth/app/client/llm"
	"hearth/app/service/room"
	"hearth/app/service/world"
	"hearth/app/util/jsonx"
	"hearth/app/util/retry"

	_ "embed"

	"github.com/samber/do"
	"github.com/samber/oops"
)

//go:embed line_template.txt
var lineTemplate string

//go:embed world_template.txt
var worldTemplate string

// ErrMalformedDiff is returned when the model's diff is not valid JSON.
// No repair is attempted and the document is left untouched.
var ErrMalformedDiff = errors.New("malformed diff")

type Target string

const (
	TargetMemory  Target = "memory"
	TargetDiary   Target = "diary"
	TargetNotepad Target = "notepad"
	TargetWorld   Target = "world"
)

func (t Target) Document() room.Document {
	switch t {
	case TargetDiary:
		return room.SecretDiary
	case TargetNotepad:
		return room.Notepad
	case TargetWorld:
		return room.World
	default:
		return room.CoreMemory
	}
}

// stamped reports whether new lines of the target get a timestamp.
func (t Target) stamped() bool {
	return t == TargetNotepad || t == TargetDiary
}

// Conversation is the context the edit was planned in.
type Conversation struct {
	System   string
	Messages []llm.Message
}

type Editor struct {
	model  llm.Model
	policy retry.Policy
	now    func() time.Time
}

func New(di *do.Injector) (*Editor, error) {
	clients := do.MustInvoke[*llm.Clients](di)
	return NewEditor(clients.Chat, clients.Policy), nil
}

func NewEditor(model llm.Model, policy retry.Policy) *Editor {
	return &Editor{model: model, policy: policy, now: time.Now}
}

// Apply carries out a planned edit of target and reports what changed.
func (e *Editor) Apply(ctx context.Context, r *room.Room, target Target, intent string, conv Conversation) (string, error) {
	doc := target.Document()
	errb := oops.In("editor").With("room", r.Name(), "doc", doc)

	if _, err := r.Backup(doc); err != nil {
		slog.WarnContext(ctx, "Backup before edit failed", "room", r.Name(), "doc", doc, "error", err)
	}

	content, err := r.Read(doc)
	if err != nil {
		return "", err
	}

	var prompt string
	if target == TargetWorld {
		prompt = fmt.Sprintf(worldTemplate, intent, content)
	} else {
		prompt = fmt.Sprintf(lineTemplate, intent, doc, Numbered(SplitLines(content)))
	}

	messages := append(append([]llm.Message(nil), conv.Messages...), llm.Message{Role: llm.RoleUser, Text: prompt})

	resp, err := retry.Value(ctx, e.policy, "edit_"+string(target), func(ctx context.Context) (*llm.Response, error) {
		return e.model.Generate(ctx, llm.Request{System: conv.System, Messages: messages}, nil)
	})
	if err != nil {
		return "", errb.Wrapf(err, "diff call failed")
	}

	var updated string
	var changes int
	if target == TargetWorld {
		updated, changes, err = e.applyWorld(ctx, content, resp.Text)
	} else {
		updated, changes, err = e.applyLines(content, resp.Text, target)
	}
	if err != nil {
		return "", errb.Wrap(err)
	}

	if err = r.Write(doc, updated); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Document edited", "room", r.Name(), "doc", doc, "changes", changes)

	return fmt.Sprintf("Applied %d change(s) to %s.", changes, doc), nil
}

func decode(reply string, v any) error {
	if err := json.Unmarshal([]byte(jsonx.Payload(reply)), v); err != nil {
		return errors.Join(ErrMalformedDiff, err)
	}
	return nil
}

func (e *Editor) applyLines(content, reply string, target Target) (string, int, error) {
	var batch []Instruction
	if err := decode(reply, &batch); err != nil {
		return "", 0, err
	}

	var stamp Stamper
	if target.stamped() {
		stamp = TimestampAt(e.now())
	}

	lines, err := ApplyLineDiff(SplitLines(content), batch, stamp)
	if err != nil {
		return "", 0, err
	}

	return JoinLines(lines), len(batch), nil
}

// WorldInstruction is one structured world edit.
type WorldInstruction struct {
	Op          string `json:"op"`
	Area        string `json:"area"`
	Place       string `json:"place"`
	Description string `json:"description,omitempty"`
}

func (e *Editor) applyWorld(ctx context.Context, content, reply string) (string, int, error) {
	var batch []WorldInstruction
	if err := decode(reply, &batch); err != nil {
		return "", 0, err
	}

	return ApplyWorldDiff(ctx, content, batch)
}

// ApplyWorldDiff applies world instructions in order. The first failing
// instruction fails the batch.
func ApplyWorldDiff(ctx context.Context, content string, batch []WorldInstruction) (string, int, error) {
	var err error
	for i, in := range batch {
		switch strings.TrimSpace(in.Op) {
		case "update_place_description":
			content, err = world.UpdatePlaceDescription(content, in.Area, in.Place, in.Description)
		case "add_place":
			content, err = world.AddPlace(content, in.Area, in.Place, in.Description)
		case "delete_place":
			content, err = world.DeletePlace(content, in.Area, in.Place)
		default:
			err = oops.Errorf("unknown op %q", in.Op)
		}
		if err != nil {
			return "", 0, oops.With("instruction", i).Wrap(err)
		}
		slog.DebugContext(ctx, "World instruction applied", "op", in.Op, "area", in.Area, "place", in.Place)
	}

	return content, len(batch), nil
}

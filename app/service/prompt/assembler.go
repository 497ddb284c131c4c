// Package prompt assembles a room's system prompt and conversation window.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hearth/app/client/llm"
	"hearth/app/service/episodic"
	"hearth/app/service/room"

	"github.com/samber/do"
	"github.com/samber/oops"
)

// Assembled is a built prompt whose retrieval slot is still open.
type Assembled struct {
	Parts    Parts
	Settings room.Settings
	Window   []room.Entry
	Messages []llm.Message
}

// WithRetrieval renders the system prompt with the given retrieval section.
func (a Assembled) WithRetrieval(section string) string {
	p := a.Parts
	p.Retrieval = section
	return p.Render()
}

type Assembler struct {
	caller llm.Caller
	now    func() time.Time
}

func New(di *do.Injector) (*Assembler, error) {
	return NewAssembler(do.MustInvoke[*llm.Clients](di).Caller()), nil
}

func NewAssembler(caller llm.Caller) *Assembler {
	return &Assembler{caller: caller, now: time.Now}
}

// Build reads everything the next turn needs from the room.
func (a *Assembler) Build(ctx context.Context, r *room.Room) (Assembled, error) {
	settings, err := r.Settings()
	if err != nil {
		return Assembled{}, err
	}

	entries, err := r.Log()
	if err != nil {
		return Assembled{}, err
	}
	window := Window(entries, settings.HistoryTurns)

	parts := DefaultParts(settings.AgentName)
	now := a.now()

	if parts.Situation, err = a.situation(ctx, r, settings, now); err != nil {
		return Assembled{}, err
	}

	persona, err := r.Read(room.SystemPrompt)
	if err != nil {
		return Assembled{}, err
	}
	if strings.TrimSpace(persona) != "" {
		parts.Persona = persona
	}

	if settings.IncludeCoreMemory {
		if parts.CoreMemory, err = r.Read(room.CoreMemory); err != nil {
			return Assembled{}, err
		}
	}

	if settings.IncludeNotepad {
		if parts.Notepad, err = r.Read(room.Notepad); err != nil {
			return Assembled{}, err
		}
	}

	if parts.EpisodicRecall, err = a.recall(r, settings, window, now); err != nil {
		return Assembled{}, err
	}

	if parts.Dreams, err = r.LatestDream(); err != nil {
		return Assembled{}, err
	}

	if parts.ActionPlan, err = actionPlan(r, settings, window); err != nil {
		return Assembled{}, err
	}

	return Assembled{
		Parts:    parts,
		Settings: settings,
		Window:   window,
		Messages: Messages(window, settings),
	}, nil
}

// recall lists episodes from the days before the oldest visible message.
func (a *Assembler) recall(r *room.Room, settings room.Settings, window []room.Entry, now time.Time) (string, error) {
	before := OldestTime(window)
	if before.IsZero() {
		before = now
	}

	episodes, err := episodic.StoreFor(r).Recall(before, settings.EpisodicDays)
	if err != nil {
		return "", oops.In("prompt").With("room", r.Name()).Wrapf(err, "recall episodes")
	}

	lines := make([]string, len(episodes))
	for i, e := range episodes {
		lines[i] = e.EpisodeDate + ": " + strings.ReplaceAll(strings.TrimSpace(e.Summary), "\n", " ")
	}
	return bullet(lines), nil
}

func actionPlan(r *room.Room, settings room.Settings, window []room.Entry) (string, error) {
	plan, err := r.ActivePlan()
	if err != nil || plan == nil {
		return "", err
	}

	text := fmt.Sprintf("At %s you intend to: %s\nFeeling: %s\n%s",
		plan.WakeUpTime.Format(room.TimeLayout), plan.Intent, plan.Emotion, plan.Description)

	if n := len(window); n > 0 {
		last := window[n-1]
		if last.Speaker == room.SpeakerUser && (last.Time.IsZero() || last.Time.After(plan.CreatedAt)) {
			text += fmt.Sprintf("\n\n%s wrote after you made this plan. Answer them first; "+
				"cancel or reschedule the plan if it no longer fits.", settings.UserName)
		}
	}

	return strings.TrimSpace(text), nil
}

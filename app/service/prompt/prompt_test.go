package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hearth/app/client/llm"
	"hearth/app/client/llm/llmtest"
	"hearth/app/service/episodic"
	"hearth/app/service/room"
	"hearth/app/util/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 3, 9, 30, 0, 0, time.Local)

func newAssembler(steps ...llmtest.Step) (*Assembler, *llmtest.Model) {
	model := llmtest.NewModel(steps...)
	a := NewAssembler(llm.Caller{Model: model, Policy: retry.Policy{MaxAttempts: 1, Sleep: retry.NoSleep}})
	a.now = func() time.Time { return now }
	return a, model
}

func newRoom(t *testing.T) *room.Room {
	t.Helper()
	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)
	return r
}

func TestWindow(t *testing.T) {
	entries := []room.Entry{
		{Speaker: room.SpeakerUser, Text: "one"},
		{Speaker: room.SpeakerAgent, Text: "a"},
		{Speaker: room.SpeakerSystem, Text: "alarm"},
		{Speaker: room.SpeakerUser, Text: "two"},
		{Speaker: room.SpeakerAgent, Text: "b"},
		{Speaker: room.SpeakerAgent, Text: "c"},
		{Speaker: room.SpeakerUser, Text: "three"},
	}

	assert.Nil(t, Window(entries, 0))
	assert.Equal(t, entries[6:], Window(entries, 1))
	assert.Equal(t, entries[2:], Window(entries, 2))
	assert.Equal(t, entries, Window(entries, 3))
	assert.Equal(t, entries, Window(entries, 10))
}

func TestMessagesMergeSameRole(t *testing.T) {
	at := time.Date(2025, 6, 3, 8, 0, 0, 0, time.Local)
	msgs := Messages([]room.Entry{
		{Speaker: room.SpeakerSystem, Text: "timer done"},
		{Speaker: room.SpeakerUser, Name: "Bob", Text: "hi", Time: at},
		{Speaker: room.SpeakerAgent, Text: "hello"},
		{Speaker: room.SpeakerAgent, Text: "again"},
	}, room.DefaultSettings("alice"))

	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "[System] timer done\n\n(2025-06-03 (Tue) 08:00:00) Bob: hi", msgs[0].Text)
	assert.Equal(t, llm.Message{Role: llm.RoleModel, Text: "hello\n\nagain"}, msgs[1])
}

func TestTimeOfDayAndSeason(t *testing.T) {
	assert.Equal(t, "morning", TimeOfDay(now))
	assert.Equal(t, "night", TimeOfDay(time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "summer", Season(now))
	assert.Equal(t, "winter", Season(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPartsRenderSkipsEmptySections(t *testing.T) {
	p := Parts{Persona: "You are Alice.", Notepad: "  ", ActionPlan: "walk"}
	assert.Equal(t, "You are Alice.\n\n## Action plan\nwalk", p.Render())

	a := Assembled{Parts: p}
	assert.Contains(t, a.WithRetrieval("KB:\nroses"), "## Recalled from long-term memory\nKB:\nroses")
	assert.NotContains(t, a.WithRetrieval(""), "Recalled")
}

func TestBuild(t *testing.T) {
	r := newRoom(t)

	require.NoError(t, r.Write(room.SystemPrompt, "You are Alice, a gardener."))
	require.NoError(t, r.Write(room.CoreMemory, "Bob is my neighbour."))
	require.NoError(t, r.Write(room.World, "# Village\n## Garden\nRoses and a pond.\n"))
	require.NoError(t, r.SetLocation("garden"))

	_, err := r.SchedulePlan(room.ActionPlan{
		Intent:     "water the roses",
		Emotion:    "calm",
		CreatedAt:  now.Add(-time.Hour),
		WakeUpTime: now.Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, episodic.StoreFor(r).Append(episodic.Entry{ID: "1", EpisodeDate: "2025-06-01", Summary: "- Bob visited", SourceFile: "log.txt"}))

	require.NoError(t, r.Append(
		room.Entry{Speaker: room.SpeakerUser, Text: "morning!", Time: now.Add(-time.Minute)},
	))

	settings := room.DefaultSettings("alice")
	settings.IncludeNotepad = false
	require.NoError(t, r.SaveSettings(settings))

	a, model := newAssembler(llmtest.Text("Dew glitters on the roses."))

	built, err := a.Build(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "You are Alice, a gardener.", built.Parts.Persona)
	assert.Contains(t, built.Parts.Situation, "alice is at Garden (Village).")
	assert.Contains(t, built.Parts.Situation, "Scenery: Dew glitters on the roses.")
	assert.Equal(t, "Bob is my neighbour.", built.Parts.CoreMemory)
	assert.Empty(t, built.Parts.Notepad)
	assert.Equal(t, "- 2025-06-01: - Bob visited", built.Parts.EpisodicRecall)
	assert.Contains(t, built.Parts.ActionPlan, "water the roses")
	assert.Contains(t, built.Parts.ActionPlan, "wrote after you made this plan")
	require.Len(t, built.Messages, 1)

	// The scenery is cached for the same place, season and time of day.
	again, err := a.Build(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, built.Parts.Situation, again.Parts.Situation)
	assert.Equal(t, 1, model.Calls())
}

func TestBuildWithoutSceneryOnModelFailure(t *testing.T) {
	r := newRoom(t)
	require.NoError(t, r.SetLocation("Attic"))

	a, _ := newAssembler(llmtest.Fail(errors.New("unavailable")))

	built, err := a.Build(context.Background(), r)
	require.NoError(t, err)
	assert.Contains(t, built.Parts.Situation, "alice is at Attic.")
	assert.False(t, strings.Contains(built.Parts.Situation, "Scenery"))
	assert.Empty(t, built.Parts.ActionPlan)
	assert.Empty(t, built.Messages)
}

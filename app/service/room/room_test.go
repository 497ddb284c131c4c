package room

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hearth/app/client/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T) *Room {
	t.Helper()
	r, err := NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)
	return r
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"alice", "room-2", "日本"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", " ", ".", "..", "a/b", `a\b`, ".hidden"} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, name)
	}
}

func TestStoreReturnsSameRoom(t *testing.T) {
	s := NewStore(t.TempDir())

	a, err := s.Room("alice")
	require.NoError(t, err)
	b, err := s.Room("alice")
	require.NoError(t, err)
	assert.Same(t, a, b)

	assert.DirExists(t, filepath.Join(a.Dir(), "memory"))
	assert.DirExists(t, a.ProcessedDir())

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)

	_, err = s.Existing("bob")
	assert.Error(t, err)
}

func TestReadMissingDocumentIsEmpty(t *testing.T) {
	r := newRoom(t)

	text, err := r.Read(Notepad)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestBackup(t *testing.T) {
	r := newRoom(t)

	path, err := r.Backup(Notepad)
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, r.Write(Notepad, "remember milk\n"))

	path, err = r.Backup(Notepad)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remember milk\n", string(data))
}

func TestSchedulePlanKeepsSingleSlot(t *testing.T) {
	r := newRoom(t)

	plan, err := r.ActivePlan()
	require.NoError(t, err)
	assert.Nil(t, plan)

	_, err = r.SchedulePlan(ActionPlan{Intent: "water plants", WakeUpTime: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = r.SchedulePlan(ActionPlan{Intent: "call mom", Emotion: "warm", WakeUpTime: time.Now().Add(2 * time.Hour)})
	require.NoError(t, err)

	plan, err = r.ActivePlan()
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "call mom", plan.Intent)
	assert.Equal(t, PlanScheduled, plan.Status)

	require.NoError(t, r.ClearPlan())
	require.NoError(t, r.ClearPlan())

	plan, err = r.ActivePlan()
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestContinuityOverwrites(t *testing.T) {
	r := newRoom(t)

	require.NoError(t, r.SaveContinuity(Continuity{LastSignature: []byte("one")}))
	require.NoError(t, r.SaveContinuity(Continuity{
		LastSignature: []byte("two"),
		LastToolCalls: []llm.ToolCall{{Name: "set_location", Args: map[string]any{"place": "Kitchen"}}},
	}))

	c, err := r.Continuity()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), c.LastSignature)
	require.Len(t, c.LastToolCalls, 1)
	assert.Equal(t, "Kitchen", c.LastToolCalls[0].Args["place"])
	assert.False(t, c.UpdatedAt.IsZero())
}

func TestSettingsDefaults(t *testing.T) {
	r := newRoom(t)

	s, err := r.Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings("alice"), s)

	require.NoError(t, os.WriteFile(r.Path(settingsFile), []byte(`{"auto_retrieval": false, "history_turns": 4}`), 0o644))

	s, err = r.Settings()
	require.NoError(t, err)
	assert.False(t, s.AutoRetrieval)
	assert.Equal(t, 4, s.HistoryTurns)
	assert.True(t, s.IncludeNotepad)
}

func TestLogRoundTrip(t *testing.T) {
	r := newRoom(t)
	at := time.Date(2025, 3, 4, 21, 15, 0, 0, time.Local)

	require.NoError(t, r.Append(
		Entry{Speaker: SpeakerUser, Name: "Bob", Text: "hi\n## not a header", Time: at},
		Entry{Speaker: SpeakerAgent, Name: "alice", Text: "hello"},
	))

	entries, err := r.Log()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "Bob", entries[0].Name)
	assert.Equal(t, "hi\n## not a header", entries[0].Text)
	assert.True(t, at.Equal(entries[0].Time))

	assert.Equal(t, "hello", entries[1].Text)
	assert.True(t, entries[1].Time.IsZero())
}

func TestParseLogHeaderVariants(t *testing.T) {
	entries := ParseLog("preamble\n## SYSTEM:\nwake up\n\n## USER:Bob:\nmorning\n\n## AGENT\nyawn\n")

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Speaker: SpeakerSystem, Text: "wake up"}, entries[0])
	assert.Equal(t, Entry{Speaker: SpeakerUser, Name: "Bob", Text: "morning"}, entries[1])
	assert.Equal(t, Entry{Speaker: SpeakerAgent, Text: "yawn"}, entries[2])
}

func TestTakeDueAlarms(t *testing.T) {
	r := newRoom(t)
	now := time.Now()

	_, err := r.AddAlarm(Alarm{Kind: KindAlarm, FireAt: now.Add(-time.Minute), Message: "wake"})
	require.NoError(t, err)
	_, err = r.AddAlarm(Alarm{Kind: KindTimer, FireAt: now.Add(time.Hour), Message: "later"})
	require.NoError(t, err)
	_, err = r.AddAlarm(Alarm{
		Kind: KindPomodoro, FireAt: now.Add(-time.Second), Message: "focus",
		WorkMinutes: 25, BreakMinutes: 5, CyclesLeft: 2, Phase: PhaseWork,
	})
	require.NoError(t, err)

	due, err := r.TakeDueAlarms(now)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	left, err := r.Alarms()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, KindPomodoro, left[0].Kind)
	assert.Equal(t, PhaseBreak, left[0].Phase)
	assert.Equal(t, "later", left[1].Message)
}

func TestSceneryCache(t *testing.T) {
	r := newRoom(t)
	key := SceneryKey("Garden", "spring", "morning")

	_, ok, err := r.Scenery(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.CacheScenery(key, "dew on the grass"))

	text, ok, err := r.Scenery(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dew on the grass", text)
}

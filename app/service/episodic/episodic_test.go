package episodic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hearth/app/client/llm"
	"hearth/app/client/llm/llmtest"
	"hearth/app/service/progress"
	"hearth/app/service/room"
	"hearth/app/service/vectorindex"
	"hearth/app/util/retry"
	"hearth/app/util/shutdown"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairs(t *testing.T) {
	pairs := Pairs([]room.Entry{
		{Speaker: room.SpeakerUser, Text: "hi"},
		{Speaker: room.SpeakerAgent, Text: "hello"},
		{Speaker: room.SpeakerAgent, Text: "again"},
		{Speaker: room.SpeakerUser, Text: "bye"},
	})

	require.Len(t, pairs, 2)
	assert.Equal(t, "hi", pairs[0].User)
	assert.Equal(t, "hello\nagain", pairs[0].Agent)
	assert.Equal(t, "bye", pairs[1].User)
	assert.Equal(t, "", pairs[1].Agent)
	assert.Equal(t, 1, pairs[1].Index)
}

func TestPairsAbsorbSystemMessages(t *testing.T) {
	pairs := Pairs([]room.Entry{
		{Speaker: room.SpeakerSystem, Text: "it is morning"},
		{Speaker: room.SpeakerUser, Name: "Bob", Text: "up?"},
		{Speaker: room.SpeakerAgent, Name: "alice", Text: "yes"},
		{Speaker: room.SpeakerSystem, Text: "alarm: water plants"},
		{Speaker: room.SpeakerAgent, Name: "alice", Text: "watering now"},
	})

	require.Len(t, pairs, 2)
	assert.Equal(t, "it is morning", pairs[0].System)
	assert.Equal(t, "Bob: up?\n\nalice: yes", strings.TrimPrefix(pairs[0].Text(), "[System]\nit is morning\n\n"))
	assert.Equal(t, "alarm: water plants", pairs[1].System)
	assert.Empty(t, pairs[1].User)
	assert.Equal(t, "watering now", pairs[1].Agent)
}

func TestClosedPairsKeepTrailingSystemMessages(t *testing.T) {
	entries := []room.Entry{
		{Speaker: room.SpeakerUser, Name: "Bob", Text: "good night"},
		{Speaker: room.SpeakerAgent, Name: "alice", Text: "sleep well"},
		{Speaker: room.SpeakerSystem, Text: "alarm: lights out"},
	}

	assert.Empty(t, Pairs(entries)[0].After)

	pairs := ClosedPairs(entries)
	require.Len(t, pairs, 1)
	assert.Equal(t, "alarm: lights out", pairs[0].After)
	assert.Equal(t, "Bob: good night\n\nalice: sleep well\n\n[System]\nalarm: lights out", pairs[0].Text())

	only := ClosedPairs([]room.Entry{{Speaker: room.SpeakerSystem, Text: "room created"}})
	require.Len(t, only, 1)
	assert.Equal(t, "room created", only[0].System)
	assert.Equal(t, "[System]\nroom created", only[0].Text())
}

// scripted answers every pipeline prompt and fails the fact extraction call
// while failExtract is set.
type scripted struct {
	summaries   atomic.Int32
	failExtract atomic.Bool
}

func (s *scripted) respond(req llm.Request) (*llm.Response, error) {
	prompt := req.Messages[0].Text
	switch {
	case strings.HasPrefix(prompt, "Summarize"):
		s.summaries.Add(1)
		lines := strings.Split(strings.TrimSpace(prompt), "\n")
		return &llm.Response{Text: "- summary of " + lines[len(lines)-1]}, nil
	case strings.HasPrefix(prompt, "List every entity"):
		return &llm.Response{Text: `{"Alice": ["Ally"], "Garden": []}`}, nil
	case strings.HasPrefix(prompt, "Extract facts"):
		if s.failExtract.Load() {
			return nil, errors.New("backend exploded")
		}
		return &llm.Response{Text: `[{"type": "relationship", "subject": "Alice", "predicate": "TENDS", "object": "Garden"}]`}, nil
	}
	return nil, errors.New("unexpected prompt")
}

func newPipeline(s *scripted, embedder *llmtest.Embedder, stop *shutdown.Flag) *Pipeline {
	model := llmtest.NewModel()
	model.Respond = s.respond

	p := NewPipeline(llm.Caller{Model: model, Policy: retry.Policy{MaxAttempts: 1, Sleep: retry.NoSleep}}, embedder, stop)
	p.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.Local) }
	return p
}

func writeArchive(t *testing.T, r *room.Room, name string) {
	t.Helper()
	at := time.Date(2025, 4, 30, 20, 0, 0, 0, time.Local)
	text := room.Entry{Speaker: room.SpeakerUser, Name: "Bob", Text: "How is the garden, Ally?", Time: at}.Format() +
		room.Entry{Speaker: room.SpeakerAgent, Name: "Alice", Text: "Blooming!"}.Format() +
		room.Entry{Speaker: room.SpeakerUser, Name: "Bob", Text: "Water it tonight", Time: at.Add(time.Minute)}.Format() +
		room.Entry{Speaker: room.SpeakerAgent, Name: "Alice", Text: "I will."}.Format()
	require.NoError(t, os.WriteFile(filepath.Join(r.ArchiveDir(), name), []byte(text), 0o644))
}

func TestImportResumesAtFailedStage(t *testing.T) {
	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)
	writeArchive(t, r, "2025-04-30.txt")

	s := &scripted{}
	s.failExtract.Store(true)
	embedder := &llmtest.Embedder{}

	_, err = newPipeline(s, embedder, shutdown.NewFlag()).Import(context.Background(), r)
	require.Error(t, err)
	assert.EqualValues(t, 1, s.summaries.Load())

	tracker, err := progress.Load(r.MemoryPath(progressFile))
	require.NoError(t, err)
	assert.Equal(t, progress.Record{Status: progress.StatusInProgress, LastProcessedPairIndex: -1, LastCompletedStage: int(StageSummarize)},
		tracker.Get(TrackImport, "2025-04-30.txt"))
	assert.FileExists(t, filepath.Join(r.ArchiveDir(), "2025-04-30.txt"))

	s.failExtract.Store(false)
	res, err := newPipeline(s, embedder, shutdown.NewFlag()).Import(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Result{Pairs: 2, Files: 1}, res)

	// Only the second pair needed a new summary.
	assert.EqualValues(t, 2, s.summaries.Load())

	entries, err := StoreFor(r).All()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "- summary of Alice: Blooming!", entries[0].Summary)
	assert.Equal(t, "2025-04-30", entries[0].EpisodeDate)
	assert.Equal(t, 1, entries[1].PairIndex)

	assert.FileExists(t, filepath.Join(r.ProcessedDir(), "2025-04-30.txt"))
	assert.NoFileExists(t, filepath.Join(r.ArchiveDir(), "2025-04-30.txt"))

	docs, err := Search(context.Background(), r, embedder, "blooming", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "2025-04-30", docs[0].Metadata["episode_date"])

	recalled, err := StoreFor(r).Recall(time.Date(2025, 5, 1, 9, 0, 0, 0, time.Local), 3)
	require.NoError(t, err)
	assert.Len(t, recalled, 2)
}

func TestImportResumeMatchesUninterruptedRun(t *testing.T) {
	store := room.NewStore(t.TempDir())

	whole, err := store.Room("whole")
	require.NoError(t, err)
	writeArchive(t, whole, "log.txt")
	_, err = newPipeline(&scripted{}, &llmtest.Embedder{}, shutdown.NewFlag()).Import(context.Background(), whole)
	require.NoError(t, err)

	resumed, err := store.Room("resumed")
	require.NoError(t, err)
	writeArchive(t, resumed, "log.txt")

	stop := shutdown.NewFlag()
	s := &scripted{}
	model := llmtest.NewModel()
	model.Respond = func(req llm.Request) (*llm.Response, error) {
		if strings.HasPrefix(req.Messages[0].Text, "Extract facts") {
			stop.Request()
		}
		return s.respond(req)
	}
	p := NewPipeline(llm.Caller{Model: model, Policy: retry.Policy{MaxAttempts: 1}}, &llmtest.Embedder{}, stop)
	p.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.Local) }

	res, err := p.Import(context.Background(), resumed)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)

	_, err = newPipeline(&scripted{}, &llmtest.Embedder{}, shutdown.NewFlag()).Import(context.Background(), resumed)
	require.NoError(t, err)

	for _, name := range []string{"knowledge_graph.json", indexFile} {
		want, err := os.ReadFile(whole.MemoryPath(name))
		require.NoError(t, err)
		got, err := os.ReadFile(resumed.MemoryPath(name))
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got), name)
	}
}

func TestActiveSkipsUnansweredPairAndNeverArchives(t *testing.T) {
	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)

	require.NoError(t, r.Append(
		room.Entry{Speaker: room.SpeakerUser, Text: "hi Ally"},
		room.Entry{Speaker: room.SpeakerAgent, Text: "hi"},
		room.Entry{Speaker: room.SpeakerUser, Text: "still there?"},
	))

	s := &scripted{}
	res, err := newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pairs)
	assert.FileExists(t, r.Path(room.ChatLog))

	res, err = newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pairs)

	_, err = newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestActiveStartsOverAfterLogRotation(t *testing.T) {
	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)

	require.NoError(t, r.Append(
		room.Entry{Speaker: room.SpeakerUser, Text: "hi Ally"},
		room.Entry{Speaker: room.SpeakerAgent, Text: "hi"},
		room.Entry{Speaker: room.SpeakerUser, Text: "how is the garden?"},
		room.Entry{Speaker: room.SpeakerAgent, Text: "blooming"},
	))

	s := &scripted{}
	res, err := newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pairs)

	rotated := room.Entry{Speaker: room.SpeakerUser, Text: "good morning"}.Format() +
		room.Entry{Speaker: room.SpeakerAgent, Text: "morning!"}.Format()
	require.NoError(t, r.Write(room.ChatLog, rotated))

	res, err = newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pairs)
	assert.EqualValues(t, 3, s.summaries.Load())

	index, err := vectorindex.Open(r.MemoryPath(indexFile), &llmtest.Embedder{})
	require.NoError(t, err)
	assert.Equal(t, 3, index.Len())

	res, err = newPipeline(s, &llmtest.Embedder{}, shutdown.NewFlag()).Active(context.Background(), r, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pairs)
}

package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"hearth/app/client/llm"
	"hearth/app/client/llm/llmtest"
	"hearth/app/service/editor"
	"hearth/app/service/memory"
	"hearth/app/service/prompt"
	"hearth/app/service/retrieval"
	"hearth/app/service/room"
	"hearth/app/service/tools"
	"hearth/app/util/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 3, 9, 30, 0, 0, time.Local)

func newService(t *testing.T, steps ...llmtest.Step) (*Service, *llmtest.Model, *room.Room) {
	t.Helper()

	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)

	settings := room.DefaultSettings("Alice")
	settings.AutoRetrieval = false
	settings.UserName = "Bob"
	require.NoError(t, r.SaveSettings(settings))

	policy := retry.Policy{MaxAttempts: 1, Sleep: retry.NoSleep, Classify: llm.RetryDecision}
	chat := llmtest.NewModel(steps...)
	side := llmtest.NewModel()
	caller := llm.Caller{Model: side, Policy: policy}

	assembler := prompt.NewAssembler(caller)
	s := NewService(
		chat,
		policy,
		assembler,
		retrieval.NewNode(caller, nil, nil, nil),
		editor.NewEditor(chat, policy),
		tools.NewRegistry(memory.NewService(&llmtest.Embedder{})),
		Options{MaxRethinks: 2, Temperature: 0.9},
	)
	s.now = func() time.Time { return now }

	return s, chat, r
}

func TestShapeOf(t *testing.T) {
	assert.Equal(t, NoToolCalls, ShapeOf(nil))
	assert.Equal(t, OneToolCall, ShapeOf([]llm.ToolCall{{Name: "a"}}))
	assert.Equal(t, MultipleToolCalls, ShapeOf([]llm.ToolCall{{Name: "a"}, {Name: "b"}}))
}

func TestTurnAnswersAndLogs(t *testing.T) {
	s, chat, r := newService(t, llmtest.Text("Hello Bob!"))

	var streamed string
	reply, err := s.ReactUserMessage(context.Background(), r, "", "hi", func(chunk string) { streamed += chunk })
	require.NoError(t, err)

	assert.Equal(t, "Hello Bob!", reply.Text)
	assert.Equal(t, EndAnswered, reply.Reason)
	assert.Equal(t, retrieval.KindSkipped, reply.Retrieval)
	assert.Equal(t, "Hello Bob!", streamed)

	req := chat.LastRequest()
	assert.Contains(t, req.System, "You are Alice.")
	assert.NotEmpty(t, req.Tools)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Text, "Bob: hi")

	entries, err := r.Log()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, room.SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "Bob", entries[0].Name)
	assert.True(t, entries[0].Time.Equal(now))
	assert.Equal(t, room.SpeakerAgent, entries[1].Speaker)
	assert.Equal(t, "Alice", entries[1].Name)
	assert.Equal(t, "Hello Bob!", entries[1].Text)
}

func TestToolCallThenAnswer(t *testing.T) {
	s, chat, r := newService(t,
		llmtest.Call("set_location", map[string]any{"place": "Garden"}),
		llmtest.Text("I walked to the garden."),
	)

	reply, err := s.ReactUserMessage(context.Background(), r, "", "go outside", nil)
	require.NoError(t, err)

	assert.Equal(t, "I walked to the garden.", reply.Text)
	assert.Equal(t, []string{"You are now at Garden."}, reply.ToolResults)

	loc, err := r.Location()
	require.NoError(t, err)
	assert.Equal(t, "Garden", loc)

	msgs := chat.LastRequest().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleModel, msgs[1].Role)
	require.NotNil(t, msgs[2].ToolResult)
	assert.Equal(t, "call-set_location", msgs[2].ToolResult.CallID)
	assert.Equal(t, "You are now at Garden.", msgs[2].ToolResult.Content)
}

func TestOnlyFirstToolCallHonored(t *testing.T) {
	s, chat, r := newService(t,
		llmtest.Step{Response: &llm.Response{ToolCalls: []llm.ToolCall{
			{Name: "set_location", Args: map[string]any{"place": "Garden"}},
			{Name: "set_location", Args: map[string]any{"place": "Attic"}},
		}}},
		llmtest.Text("Done."),
	)

	reply, err := s.ReactUserMessage(context.Background(), r, "", "move", nil)
	require.NoError(t, err)
	require.Len(t, reply.ToolResults, 1)

	loc, err := r.Location()
	require.NoError(t, err)
	assert.Equal(t, "Garden", loc)

	model := chat.LastRequest().Messages[1]
	require.Len(t, model.ToolCalls, 1)
	assert.NotEmpty(t, model.ToolCalls[0].ID)
}

func TestSilentResponsesRethinkTwice(t *testing.T) {
	s, chat, r := newService(t, llmtest.Text(""), llmtest.Text(" "), llmtest.Text(""), llmtest.Text("never reached"))

	reply, err := s.ReactUserMessage(context.Background(), r, "", "hello?", nil)
	require.NoError(t, err)

	assert.Equal(t, EndSilent, reply.Reason)
	assert.Empty(t, reply.Text)
	assert.Equal(t, 3, chat.Calls())

	entries, err := r.Log()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRateLimitEndsTurnWithMessage(t *testing.T) {
	s, _, r := newService(t, llmtest.Fail(llm.ErrRateLimited))

	reply, err := s.ReactUserMessage(context.Background(), r, "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, EndRateLimited, reply.Reason)
	assert.Equal(t, rateLimitReply, reply.Text)
}

func TestSignatureErrorSurfacesToolResults(t *testing.T) {
	s, _, r := newService(t,
		llmtest.Call("set_location", map[string]any{"place": "Garden"}),
		llmtest.Fail(llm.ErrBadSignature),
	)

	reply, err := s.ReactUserMessage(context.Background(), r, "", "go", nil)
	require.NoError(t, err)
	assert.Equal(t, EndSignature, reply.Reason)
	assert.Equal(t, "You are now at Garden.", reply.Text)
}

func TestOtherErrorsBecomeReplies(t *testing.T) {
	s, _, r := newService(t, llmtest.Fail(os.ErrPermission))

	reply, err := s.ReactUserMessage(context.Background(), r, "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, EndError, reply.Reason)
	assert.Contains(t, reply.Text, errorReply)
}

func TestSignatureCarriedToNextTurn(t *testing.T) {
	s, chat, r := newService(t,
		llmtest.Step{Response: &llm.Response{Text: "Hi!", Signature: []byte("sig-1")}},
		llmtest.Text("Again!"),
	)

	_, err := s.ReactUserMessage(context.Background(), r, "", "hi", nil)
	require.NoError(t, err)

	c, err := r.Continuity()
	require.NoError(t, err)
	assert.Equal(t, []byte("sig-1"), c.LastSignature)

	_, err = s.ReactUserMessage(context.Background(), r, "", "and again", nil)
	require.NoError(t, err)

	msgs := chat.LastRequest().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleModel, msgs[1].Role)
	assert.Equal(t, []byte("sig-1"), msgs[1].Signature)
}

func TestEventTurnLogsSystemEntry(t *testing.T) {
	s, _, r := newService(t, llmtest.Text("Time to water the roses."))

	reply, err := s.ReactEvent(context.Background(), r, "Alarm: water roses")
	require.NoError(t, err)
	assert.Equal(t, "Time to water the roses.", reply.Text)

	entries, err := r.Log()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, room.SpeakerSystem, entries[0].Speaker)
}

func TestPlanToolEditsThroughEditor(t *testing.T) {
	s, _, r := newService(t,
		llmtest.Call("plan_notepad_edit", map[string]any{"intent": "note the seeds"}),
		llmtest.Text(`[{"op": "insert_after", "line": 0, "content": "buy seeds"}]`),
		llmtest.Text("Noted."),
	)

	reply, err := s.ReactUserMessage(context.Background(), r, "", "remind me of seeds", nil)
	require.NoError(t, err)
	assert.Equal(t, "Noted.", reply.Text)
	assert.Equal(t, []string{"Applied 1 change(s) to notepad.md."}, reply.ToolResults)

	content, err := r.Read(room.Notepad)
	require.NoError(t, err)
	assert.Contains(t, content, "buy seeds")
}

func TestPlanToolAppliedOncePerTurn(t *testing.T) {
	s, chat, r := newService(t, llmtest.Text(`[{"op": "insert_after", "line": 0, "content": "buy seeds"}]`))

	ctx := context.Background()
	built, err := s.assembler.Build(ctx, r)
	require.NoError(t, err)

	tr := newTurn(r)
	tr.built = built

	call := llm.ToolCall{ID: "1", Name: "plan_notepad_edit", Args: map[string]any{"intent": "seeds"}}

	first := s.runTool(ctx, tr, call)
	assert.Equal(t, "Applied 1 change(s) to notepad.md.", first)

	before, err := r.Read(room.Notepad)
	require.NoError(t, err)
	info, err := os.Stat(r.Path(room.Notepad))
	require.NoError(t, err)

	call.ID = "2"
	second := s.runTool(ctx, tr, call)
	assert.Equal(t, alreadyApplied+first, second)
	assert.Equal(t, 1, chat.Calls())

	after, err := r.Read(room.Notepad)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	info2, err := os.Stat(r.Path(room.Notepad))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

type brokenTool struct{}

func (brokenTool) Name() string        { return "broken" }
func (brokenTool) Description() string { return "Always panics." }
func (brokenTool) Spec() llm.ToolSpec  { return llm.ToolSpec{Name: "broken", Description: "Always panics."} }

func (brokenTool) Call(context.Context, string) (string, error) {
	var m map[string]int
	m["boom"]++
	return "", nil
}

func TestToolPanicEndsAsToolError(t *testing.T) {
	s, _, r := newService(t,
		llmtest.Call("broken", nil),
		llmtest.Text("That tool is broken."),
	)
	s.registry.Add(brokenTool{})

	reply, err := s.ReactUserMessage(context.Background(), r, "", "try it", nil)
	require.NoError(t, err)
	assert.Equal(t, EndAnswered, reply.Reason)
	assert.Equal(t, "That tool is broken.", reply.Text)
	require.Len(t, reply.ToolResults, 1)
	assert.Contains(t, reply.ToolResults[0], "Error: ")
	assert.Contains(t, reply.ToolResults[0], "panicked")
}

func TestPlanToolPanicLeavesDocumentUntouched(t *testing.T) {
	s, chat, r := newService(t, llmtest.Call("plan_notepad_edit", map[string]any{"intent": "seeds"}))
	require.NoError(t, r.Write(room.Notepad, "water the roses\n"))

	calls := 0
	chat.Respond = func(llm.Request) (*llm.Response, error) {
		calls++
		if calls == 1 {
			panic("editor model exploded")
		}
		return &llm.Response{Text: "Could not edit the notepad."}, nil
	}

	reply, err := s.ReactUserMessage(context.Background(), r, "", "remember seeds", nil)
	require.NoError(t, err)
	assert.Equal(t, "Could not edit the notepad.", reply.Text)
	require.Len(t, reply.ToolResults, 1)
	assert.Contains(t, reply.ToolResults[0], "editor model exploded")

	content, err := r.Read(room.Notepad)
	require.NoError(t, err)
	assert.Equal(t, "water the roses\n", content)
}

// flakyStream streams part of an answer, fails, then answers in full.
type flakyStream struct {
	calls int
}

func (m *flakyStream) Generate(_ context.Context, _ llm.Request, onChunk func(string)) (*llm.Response, error) {
	m.calls++
	if m.calls == 1 {
		if onChunk != nil {
			onChunk("The gar")
		}
		return nil, llm.ErrRateLimited
	}
	if onChunk != nil {
		onChunk("The garden is ")
		onChunk("blooming.")
	}
	return &llm.Response{Text: "The garden is blooming."}, nil
}

func TestRetriedStreamIsNotReplayed(t *testing.T) {
	s, _, r := newService(t)
	model := &flakyStream{}
	s.model = model
	s.policy = retry.Policy{MaxAttempts: 2, Sleep: retry.NoSleep, Classify: llm.RetryDecision}

	var chunks []string
	reply, err := s.ReactUserMessage(context.Background(), r, "", "how is the garden?", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
	assert.Equal(t, "The garden is blooming.", reply.Text)
	assert.Equal(t, []string{"The gar", "\n", "The garden is blooming."}, chunks)
}

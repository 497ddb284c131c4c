// Package agent runs one turn of a room's agent: context generation,
// retrieval, then model calls and tool executions until the model answers.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"hearth/app/client/llm"
	"hearth/app/config"
	"hearth/app/service/editor"
	"hearth/app/service/prompt"
	"hearth/app/service/retrieval"
	"hearth/app/service/room"
	"hearth/app/service/tools"
	"hearth/app/util/retry"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	// maxToolSteps bounds tool executions per turn; past it the model is
	// called without tools so it has to answer.
	maxToolSteps = 8

	rethinkNudge   = "[System] You have not said anything yet. Tell the user what you did, or answer them."
	rateLimitReply = "I need a moment, too many requests right now. Please try again in a minute."
	errorReply     = "Something went wrong on my side: "
)

type Options struct {
	MaxRethinks int
	Temperature float32
}

type Service struct {
	model     llm.Model
	policy    retry.Policy
	assembler *prompt.Assembler
	retriever *retrieval.Node
	editor    *editor.Editor
	registry  *tools.Registry
	opts      Options
	now       func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	clients := do.MustInvoke[*llm.Clients](di)

	return NewService(
		clients.Chat,
		clients.Policy,
		do.MustInvoke[*prompt.Assembler](di),
		do.MustInvoke[*retrieval.Node](di),
		do.MustInvoke[*editor.Editor](di),
		do.MustInvoke[*tools.Registry](di),
		Options{MaxRethinks: cfg.Agent.MaxRethinks, Temperature: cfg.LLM.Temperature},
	), nil
}

func NewService(
	model llm.Model,
	policy retry.Policy,
	assembler *prompt.Assembler,
	retriever *retrieval.Node,
	ed *editor.Editor,
	registry *tools.Registry,
	opts Options,
) *Service {
	return &Service{
		model:     model,
		policy:    policy,
		assembler: assembler,
		retriever: retriever,
		editor:    ed,
		registry:  registry,
		opts:      opts,
		now:       time.Now,
	}
}

// Input starts a turn: a user message, or for autonomous turns an event
// such as a fired plan or alarm.
type Input struct {
	Room  *room.Room
	Name  string
	Text  string
	Event string
	// OnChunk receives the streamed model text, may be nil.
	OnChunk func(string)
}

type Reply struct {
	Text        string
	ToolResults []string
	Reason      EndReason
	Retrieval   retrieval.Kind
}

func (s *Service) ReactUserMessage(ctx context.Context, r *room.Room, name, text string, onChunk func(string)) (Reply, error) {
	return s.Run(ctx, Input{Room: r, Name: name, Text: text, OnChunk: onChunk})
}

func (s *Service) ReactEvent(ctx context.Context, r *room.Room, event string) (Reply, error) {
	return s.Run(ctx, Input{Room: r, Event: event})
}

// Run drives one turn to its end. Model and tool failures end the turn with
// a user-visible reply; only chat log and continuity writes return errors.
func (s *Service) Run(ctx context.Context, in Input) (Reply, error) {
	r := in.Room
	errb := oops.In("agent").With("room", r.Name())

	settings, err := r.Settings()
	if err != nil {
		return Reply{}, err
	}

	if err = s.logInput(r, settings, in); err != nil {
		return Reply{}, errb.Wrapf(err, "log turn input")
	}

	t := newTurn(r)
	state := StateContextGeneration
	reply := Reply{}

	for state != StateEnd {
		slog.DebugContext(ctx, "Agent state", "room", r.Name(), "state", state)

		switch state {
		case StateContextGeneration:
			state = s.generateContext(ctx, t)
		case StateRetrieval:
			reply.Retrieval, state = s.retrieve(ctx, t)
		case StateAgent:
			state = s.callAgent(ctx, t, in.OnChunk)
		case StateToolExecution:
			state = s.executeTool(ctx, t)
		default:
			return Reply{}, errb.Errorf("unknown state %q", state)
		}
	}

	reply.Text = t.surfaced()
	reply.ToolResults = t.toolResults
	reply.Reason = t.reason

	slog.InfoContext(ctx, "Turn ended", "room", r.Name(), "reason", t.reason, "tools", len(t.toolResults), "rethinks", t.rethinks)

	if err = r.SaveContinuity(room.Continuity{LastSignature: t.signature, LastToolCalls: t.lastCalls, UpdatedAt: s.now()}); err != nil {
		return reply, err
	}

	if reply.Text != "" {
		entry := room.Entry{Speaker: room.SpeakerAgent, Name: settings.AgentName, Text: reply.Text, Time: s.now()}
		if err = r.Append(entry); err != nil {
			return reply, errb.Wrapf(err, "log reply")
		}
	}

	return reply, nil
}

func (s *Service) logInput(r *room.Room, settings room.Settings, in Input) error {
	switch {
	case strings.TrimSpace(in.Text) != "":
		name := in.Name
		if name == "" {
			name = settings.UserName
		}
		return r.Append(room.Entry{Speaker: room.SpeakerUser, Name: name, Text: in.Text, Time: s.now()})
	case strings.TrimSpace(in.Event) != "":
		return r.Append(room.Entry{Speaker: room.SpeakerSystem, Text: in.Event, Time: s.now()})
	default:
		return nil
	}
}

func (s *Service) generateContext(ctx context.Context, t *turn) State {
	built, err := s.assembler.Build(ctx, t.room)
	if err != nil {
		slog.ErrorContext(ctx, "Context generation failed", "room", t.room.Name(), "error", err)
		t.reason = EndError
		t.reply = errorReply + err.Error()
		return StateEnd
	}

	t.built = built
	t.messages = append([]llm.Message(nil), built.Messages...)

	continuity, err := t.room.Continuity()
	if err != nil {
		slog.WarnContext(ctx, "Failed to read thought continuity", "room", t.room.Name(), "error", err)
	} else if t.attachSignature(continuity.LastSignature) {
		slog.DebugContext(ctx, "Signature re-attached", "room", t.room.Name())
	}

	return StateRetrieval
}

func (s *Service) retrieve(ctx context.Context, t *turn) (retrieval.Kind, State) {
	res, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Room:     t.room,
		Settings: t.built.Settings,
		Window:   t.built.Window,
	})
	if err != nil {
		slog.WarnContext(ctx, "Retrieval failed", "room", t.room.Name(), "error", err)
	}

	t.retrieval = res.Section()

	return res.Kind, StateAgent
}

func (s *Service) callAgent(ctx context.Context, t *turn, onChunk func(string)) State {
	req := llm.Request{
		System:      t.built.WithRetrieval(t.retrieval),
		Messages:    t.messages,
		Temperature: llm.Temperature(s.opts.Temperature),
	}
	if !t.forceEnd {
		req.Tools = s.registry.Specs()
	}

	// Only the first attempt streams; a retried answer is sent whole once
	// it succeeds, so a failed stream is never replayed.
	attempts, partial := 0, false
	resp, err := retry.Value(ctx, s.policy, "agent", func(ctx context.Context) (*llm.Response, error) {
		attempts++
		if attempts > 1 || onChunk == nil {
			return s.model.Generate(ctx, req, nil)
		}
		return s.model.Generate(ctx, req, func(chunk string) {
			partial = true
			onChunk(chunk)
		})
	})
	if err != nil {
		return t.fail(ctx, err)
	}

	if attempts > 1 && onChunk != nil && resp.Text != "" {
		if partial {
			onChunk("\n")
		}
		onChunk(resp.Text)
	}

	if len(resp.Signature) > 0 {
		t.signature = resp.Signature
		if err = t.room.SaveContinuity(room.Continuity{LastSignature: resp.Signature, LastToolCalls: resp.ToolCalls, UpdatedAt: s.now()}); err != nil {
			slog.WarnContext(ctx, "Failed to save thought continuity", "room", t.room.Name(), "error", err)
		}
	}

	msg := llm.Message{Role: llm.RoleModel, Text: resp.Text, Signature: resp.Signature}

	shape := ShapeOf(resp.ToolCalls)
	if shape == MultipleToolCalls {
		dropped := pie.Map(resp.ToolCalls[1:], func(c llm.ToolCall) string { return c.Name })
		slog.WarnContext(ctx, "Only the first tool call is executed", "room", t.room.Name(), "tool", resp.ToolCalls[0].Name, "dropped", dropped)
	}
	if shape != NoToolCalls {
		call := resp.ToolCalls[0]
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		msg.ToolCalls = []llm.ToolCall{call}
		t.pending = &call
		t.lastCalls = msg.ToolCalls
	}

	if text := strings.TrimSpace(resp.Text); text != "" {
		if t.reply != "" {
			t.reply += "\n\n"
		}
		t.reply += text
	}

	if msg.Text != "" || len(msg.ToolCalls) > 0 {
		t.messages = append(t.messages, msg)
	}

	slog.DebugContext(ctx, "Agent responded", "room", t.room.Name(), "calls", shape, "chars", len(resp.Text))

	if t.pending != nil {
		return StateToolExecution
	}

	if strings.TrimSpace(resp.Text) == "" && !t.forceEnd && t.rethinks < s.opts.MaxRethinks {
		t.rethinks++
		t.messages = append(t.messages, llm.Message{Role: llm.RoleUser, Text: rethinkNudge})
		return StateAgent
	}

	if t.reply == "" {
		t.reason = EndSilent
	} else {
		t.reason = EndAnswered
	}
	return StateEnd
}

func (t *turn) fail(ctx context.Context, err error) State {
	class := llm.Classify(err)
	slog.ErrorContext(ctx, "Agent call failed", "room", t.room.Name(), "class", class, "error", err)

	switch class {
	case llm.ClassTransient, llm.ClassQuota:
		t.reason = EndRateLimited
		t.reply = rateLimitReply
	case llm.ClassSignature:
		t.reason = EndSignature
	default:
		t.reason = EndError
		t.reply = errorReply + err.Error()
	}

	return StateEnd
}

package agent

import (
	"context"
	"log/slog"

	"hearth/app/client/llm"
	"hearth/app/service/editor"
	"hearth/app/service/tools"

	"github.com/samber/oops"
)

const alreadyApplied = "Already applied earlier in this turn: "

func (s *Service) executeTool(ctx context.Context, t *turn) State {
	call := *t.pending
	t.pending = nil

	result := s.runTool(ctx, t, call)

	t.toolResults = append(t.toolResults, result)
	t.messages = append(t.messages, llm.Message{
		Role:       llm.RoleTool,
		ToolResult: &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: result},
		Signature:  t.signature,
	})

	t.steps++
	if t.steps >= maxToolSteps {
		slog.WarnContext(ctx, "Tool step limit reached", "room", t.room.Name(), "steps", t.steps)
		t.forceEnd = true
	}

	return StateAgent
}

// runTool executes one call. Plan tools go through the editor, at most once
// per distinct call and turn.
func (s *Service) runTool(ctx context.Context, t *turn, call llm.ToolCall) string {
	target, isPlan := s.registry.PlanTarget(call.Name)
	if !isPlan {
		scoped := tools.WithScope(ctx, tools.Scope{Room: t.room, Window: t.built.Window})
		return s.registry.Call(scoped, call)
	}

	key := dedupKey(call)
	if prev, ok := t.applied[key]; ok {
		slog.InfoContext(ctx, "Plan tool already applied", "room", t.room.Name(), "tool", call.Name)
		return alreadyApplied + prev
	}

	intent, err := tools.PlanIntent(call)
	if err != nil {
		return "Error: " + err.Error()
	}

	// The model message carrying this call is left out; the editor asks for
	// the diff in its own message.
	history := t.messages
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleModel {
		history = history[:n-1]
	}

	var (
		result   string
		applyErr error
	)
	err = oops.With("tool", call.Name).Recoverf(func() {
		result, applyErr = s.editor.Apply(ctx, t.room, target, intent, editor.Conversation{
			System:   t.built.WithRetrieval(t.retrieval),
			Messages: history,
		})
	}, "plan tool %s panicked", call.Name)
	if err == nil {
		err = applyErr
	}
	if err != nil {
		slog.WarnContext(ctx, "Plan tool failed", "room", t.room.Name(), "tool", call.Name, "error", err)
		return "Error: " + err.Error()
	}

	t.applied[key] = result

	return result
}

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"hearth/app/client/llm"
	"hearth/app/service/prompt"
	"hearth/app/service/room"
)

type State string

const (
	StateContextGeneration State = "context_generation"
	StateRetrieval         State = "retrieval"
	StateAgent             State = "agent"
	StateToolExecution     State = "tool_execution"
	StateEnd               State = "end"
)

// CallShape tells how many tool calls a model response carried. Only the
// first call of a response is ever executed.
type CallShape int

const (
	NoToolCalls CallShape = iota
	OneToolCall
	MultipleToolCalls
)

func (c CallShape) String() string {
	switch c {
	case OneToolCall:
		return "one"
	case MultipleToolCalls:
		return "multiple"
	default:
		return "none"
	}
}

func ShapeOf(calls []llm.ToolCall) CallShape {
	switch len(calls) {
	case 0:
		return NoToolCalls
	case 1:
		return OneToolCall
	default:
		return MultipleToolCalls
	}
}

// EndReason is why a turn stopped.
type EndReason string

const (
	EndAnswered    EndReason = "answered"
	EndSilent      EndReason = "silent"
	EndRateLimited EndReason = "rate_limited"
	EndSignature   EndReason = "signature"
	EndError       EndReason = "error"
)

// turn is the state of one agent turn. It lives only as long as Run.
type turn struct {
	room  *room.Room
	built prompt.Assembled
	// retrieval fills the prompt's retrieval slot on every agent call.
	retrieval string

	messages  []llm.Message
	signature []byte
	lastCalls []llm.ToolCall

	// pending is the tool call chosen by the last agent step.
	pending *llm.ToolCall
	// applied maps plan calls already carried out this turn to their result.
	applied map[string]string

	toolResults []string
	rethinks    int
	steps       int
	forceEnd    bool

	reply  string
	reason EndReason
}

func newTurn(r *room.Room) *turn {
	return &turn{room: r, applied: map[string]string{}}
}

// attachSignature puts the previous turn's signature on the last model
// message of the reconstructed history.
func (t *turn) attachSignature(sig []byte) bool {
	if len(sig) == 0 {
		return false
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == llm.RoleModel {
			t.messages[i].Signature = sig
			return true
		}
	}
	return false
}

// surfaced is the text shown to the user when the turn ends.
func (t *turn) surfaced() string {
	if t.reason == EndSignature {
		parts := append([]string{t.reply}, t.toolResults...)
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return strings.TrimSpace(t.reply)
}

// dedupKey identifies a tool call by name and arguments.
func dedupKey(call llm.ToolCall) string {
	sum := sha256.Sum256([]byte(call.ArgsJSON()))
	return call.Name + "#" + hex.EncodeToString(sum[:8])
}

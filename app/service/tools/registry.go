// Package tools is the registry of everything the agent can call: room
// tools working on the room's documents, and external tools served by MCP.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hearth/app/client/llm"
	"hearth/app/client/mcptools"
	"hearth/app/service/editor"
	"hearth/app/service/memory"
	"hearth/app/service/room"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	lctools "github.com/tmc/langchaingo/tools"
)

// Tool is a langchaingo tool that also describes its arguments.
type Tool interface {
	lctools.Tool
	Spec() llm.ToolSpec
}

var _ Tool = (*roomTool)(nil)

type roomTool struct {
	name        string
	description string
	params      []llm.Param
	// plan is set on the tools that only record an edit intent.
	plan editor.Target
	call func(ctx context.Context, input string) (string, error)
}

func (t *roomTool) Name() string {
	return t.name
}

func (t *roomTool) Description() string {
	return t.description
}

func (t *roomTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: t.description, Params: t.params}
}

func (t *roomTool) Call(ctx context.Context, input string) (string, error) {
	return t.call(ctx, input)
}

type Registry struct {
	memorySvc *memory.Service
	now       func() time.Time

	tools map[string]Tool
	order []string
}

func New(di *do.Injector) (*Registry, error) {
	r := NewRegistry(do.MustInvoke[*memory.Service](di))

	mcpSvc := do.MustInvoke[*mcptools.Service](di)
	for _, t := range mcpSvc.Tools() {
		r.Add(t)
	}

	return r, nil
}

// NewRegistry returns a registry holding the room tools.
func NewRegistry(memorySvc *memory.Service) *Registry {
	r := &Registry{
		memorySvc: memorySvc,
		now:       time.Now,
		tools:     map[string]Tool{},
	}

	for _, t := range r.roomTools() {
		r.Add(t)
	}

	return r
}

// Add registers t. A later tool with the same name replaces the earlier one.
func (r *Registry) Add(t Tool) {
	if _, ok := r.tools[t.Name()]; ok {
		slog.Warn("Tool registered twice", "tool", t.Name())
	} else {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs lists the tool declarations sent to the model.
func (r *Registry) Specs() []llm.ToolSpec {
	return pie.Map(r.order, func(name string) llm.ToolSpec {
		return r.tools[name].Spec()
	})
}

// PlanTarget reports whether name is a plan tool and which document its
// edit applies to.
func (r *Registry) PlanTarget(name string) (editor.Target, bool) {
	t, ok := r.tools[name].(*roomTool)
	if !ok || t.plan == "" {
		return "", false
	}
	return t.plan, true
}

// Call runs a tool and turns any failure into the tool's text result.
func (r *Registry) Call(ctx context.Context, call llm.ToolCall) string {
	t, ok := r.tools[call.Name]
	if !ok {
		slog.WarnContext(ctx, "Unknown tool", "tool", call.Name)
		return fmt.Sprintf("Error: unknown tool %q.", call.Name)
	}

	var (
		result  string
		callErr error
	)
	err := oops.With("tool", call.Name).Recoverf(func() {
		result, callErr = t.Call(ctx, call.ArgsJSON())
	}, "tool %s panicked", call.Name)
	if err == nil {
		err = callErr
	}
	if err != nil {
		slog.WarnContext(ctx, "Tool failed", "tool", call.Name, "error", err)
		return "Error: " + err.Error()
	}

	slog.DebugContext(ctx, "Tool called", "tool", call.Name)

	return result
}

// Scope is what a room tool works on.
type Scope struct {
	Room   *room.Room
	Window []room.Entry
}

type scopeKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	if !ok || s.Room == nil {
		return Scope{}, ErrNoRoom
	}
	return s, nil
}

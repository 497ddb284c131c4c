// Package llm is the provider-neutral language model capability: chat
// generation with tools and thought signatures, plus embeddings.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
	// Signature is the provider continuation token attached to this message.
	Signature []byte
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ArgsJSON returns the call arguments as a JSON object string.
func (c ToolCall) ArgsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Param describes one tool argument. Only flat argument lists are needed.
type Param struct {
	Name        string
	Type        string // string, integer, number, boolean, array, object
	Description string
	Required    bool
	// Schema is the property's JSON schema for array and object types, with
	// their items and nested properties.
	Schema map[string]any
}

type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
}

type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	JSON        bool
	Temperature *float32
}

type Response struct {
	Text      string
	ToolCalls []ToolCall
	Signature []byte
}

// Model generates one streamed response. onChunk may be nil; chunks are
// delivered in order and the returned Response is their reassembly.
type Model interface {
	Generate(ctx context.Context, req Request, onChunk func(text string)) (*Response, error)
}

// UserText is a one-message request helper.
func UserText(text string) []Message {
	return []Message{{Role: RoleUser, Text: text}}
}

// Complete runs a single prompt without tools and returns the trimmed text.
func Complete(ctx context.Context, model Model, system, prompt string, jsonMode bool) (string, error) {
	resp, err := model.Generate(ctx, Request{
		System:   system,
		Messages: UserText(prompt),
		JSON:     jsonMode,
	}, nil)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.Text), nil
}

func float32Ptr(v float32) *float32 {
	return &v
}

// Temperature is a convenience for Request.Temperature.
func Temperature(v float32) *float32 {
	return float32Ptr(v)
}

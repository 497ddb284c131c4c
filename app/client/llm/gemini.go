package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"google.golang.org/genai"
)

// Gemini talks to the Gemini API through google.golang.org/genai. It is the
// only provider that issues thought signatures.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, oops.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create GenAI client")
	}

	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}

	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if req.JSON {
		genConfig.ResponseMIMEType = "application/json"
	}

	if len(req.Tools) > 0 {
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	}

	var (
		text      strings.Builder
		calls     []ToolCall
		signature []byte
	)

	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, geminiContents(req.Messages), genConfig) {
		if err != nil {
			return nil, oops.In("gemini").With("model", g.model).Wrapf(err, "generate content")
		}

		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}

		for _, part := range chunk.Candidates[0].Content.Parts {
			if len(part.ThoughtSignature) > 0 {
				signature = part.ThoughtSignature
			}

			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.NewString()
				}
				calls = append(calls, ToolCall{
					ID:   id,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			case part.Thought:
			case part.Text != "":
				text.WriteString(part.Text)
				if onChunk != nil {
					onChunk(part.Text)
				}
			}
		}
	}

	slog.DebugContext(ctx, "Gemini response assembled",
		"model", g.model,
		"text_len", text.Len(),
		"tool_calls", len(calls),
		"signature", len(signature) > 0,
	)

	return &Response{
		Text:      text.String(),
		ToolCalls: calls,
		Signature: signature,
	}, nil
}

func (g *Gemini) Close() error {
	return nil
}

func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolResult.CallID,
					Name:     msg.ToolResult.Name,
					Response: map[string]any{"output": msg.ToolResult.Content},
				},
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})

		case RoleModel:
			var parts []*genai.Part
			if msg.Text != "" {
				parts = append(parts, &genai.Part{Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
				})
			}
			if len(parts) == 0 {
				continue
			}
			// The signature belongs on the first function call part, or on
			// the first part when the turn had no calls.
			signed := parts[0]
			for _, p := range parts {
				if p.FunctionCall != nil {
					signed = p
					break
				}
			}
			signed.ThoughtSignature = msg.Signature
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		default:
			contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleUser))
		}
	}

	return contents
}

func geminiDeclarations(specs []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))

	for _, spec := range specs {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		}

		for _, p := range spec.Params {
			prop := geminiSchema(p.Schema)
			prop.Type = geminiType(p.Type)
			switch {
			case prop.Type == genai.TypeArray && prop.Items == nil:
				prop.Items = &genai.Schema{Type: genai.TypeString}
			case prop.Type == genai.TypeObject && len(prop.Properties) == 0:
				// Gemini rejects objects without properties.
				prop.Type = genai.TypeString
			}
			if p.Description != "" {
				prop.Description = p.Description
			}
			schema.Properties[p.Name] = prop
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}

		decl := &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if len(spec.Params) > 0 {
			decl.Parameters = schema
		}

		decls = append(decls, decl)
	}

	return decls
}

func geminiType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// geminiSchema converts a JSON schema map, as MCP servers publish it.
func geminiSchema(raw map[string]any) *genai.Schema {
	out := &genai.Schema{}
	if raw == nil {
		return out
	}

	if t, ok := raw["type"].(string); ok {
		out.Type = geminiType(t)
	}
	if d, ok := raw["description"].(string); ok {
		out.Description = d
	}
	out.Enum = stringList(raw["enum"])
	out.Required = stringList(raw["required"])

	if items, ok := raw["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	} else if out.Type == genai.TypeArray {
		out.Items = &genai.Schema{Type: genai.TypeString}
	}

	if props, ok := raw["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if m, ok := prop.(map[string]any); ok {
				out.Properties[name] = geminiSchema(m)
			}
		}
	}

	return out
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

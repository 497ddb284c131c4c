package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"hearth/app/client/llm"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/tools"
)

var _ tools.Tool = (*Tool)(nil)

// Tool exposes one MCP server tool as a langchaingo tool.
type Tool struct {
	client client.MCPClient
	tool   mcp.Tool
	name   string
}

func (m *Tool) Name() string {
	return m.name
}

func (m *Tool) Description() string {
	return m.tool.Description
}

// Spec derives the flat parameter list from the tool's input schema.
func (m *Tool) Spec() llm.ToolSpec {
	required := map[string]bool{}
	for _, name := range m.tool.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(m.tool.InputSchema.Properties))
	for name := range m.tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]llm.Param, 0, len(names))
	for _, name := range names {
		param := llm.Param{Name: name, Type: "string", Required: required[name]}

		if prop, ok := m.tool.InputSchema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				param.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				param.Description = d
			}
			if param.Type == "array" || param.Type == "object" {
				param.Schema = prop
			}
		}

		params = append(params, param)
	}

	return llm.ToolSpec{Name: m.name, Description: m.tool.Description, Params: params}
}

func (m *Tool) Call(ctx context.Context, input string) (string, error) {
	callRequest := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
	}

	callRequest.Params.Name = m.tool.Name

	var args map[string]any
	trimmed := strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &args) == nil:
		callRequest.Params.Arguments = args
	case len(m.tool.InputSchema.Properties) > 0:
		// Plain input goes to the first schema property.
		for propName := range m.tool.InputSchema.Properties {
			callRequest.Params.Arguments = map[string]any{
				propName: input,
			}
			break
		}
	default:
		callRequest.Params.Arguments = map[string]any{
			"input": input,
		}
	}

	response, err := m.client.CallTool(ctx, callRequest)
	if err != nil {
		return "", fmt.Errorf("MCP tool call failed: %w", err)
	}

	var result strings.Builder
	for _, content := range response.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			result.WriteString(textContent.Text)
			result.WriteString("\n")
		}
	}

	text := strings.TrimSpace(result.String())
	if response.IsError {
		return "", fmt.Errorf("MCP tool %s returned an error: %s", m.tool.Name, text)
	}

	return text, nil
}

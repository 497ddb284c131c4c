package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain adapts any langchaingo llms.Model. Used for OpenAI-compatible
// endpoints; such providers never issue thought signatures, so stored
// signatures are carried but not sent.
type LangChain struct {
	model llms.Model
	name  string
}

func NewLangChain(model llms.Model, name string) *LangChain {
	return &LangChain{model: model, name: name}
}

// NewOpenAI builds an OpenAI-compatible chat model with slog callbacks.
func NewOpenAI(baseURL, token, model, embeddingModel string) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
		openai.WithCallback(LogCallbackHandler{}),
		openai.WithHTTPClient(&http.Client{
			Timeout: 2 * time.Minute,
		}),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, oops.In("openai").With("model", model).Wrapf(err, "create client")
	}

	return llm, nil
}

func (l *LangChain) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if onChunk != nil && len(chunk) > 0 {
				onChunk(string(chunk))
			}
			return nil
		}),
	}

	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*req.Temperature)))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(langChainTools(req.Tools)))
	}

	resp, err := l.model.GenerateContent(ctx, langChainMessages(req), opts...)
	if err != nil {
		return nil, oops.In("langchain").With("model", l.name).Wrapf(err, "generate content")
	}

	if len(resp.Choices) == 0 {
		return nil, oops.In("langchain").With("model", l.name).Errorf("no choices returned")
	}

	choice := resp.Choices[0]

	result := &Response{Text: choice.Content}

	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}

		args := map[string]any{}
		if strings.TrimSpace(call.FunctionCall.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.FunctionCall.Arguments), &args); err != nil {
				slog.WarnContext(ctx, "Tool call arguments are not JSON",
					"tool", call.FunctionCall.Name,
					"error", err,
				)
				args = map[string]any{"input": call.FunctionCall.Arguments}
			}
		}

		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}

		result.ToolCalls = append(result.ToolCalls, ToolCall{ID: id, Name: call.FunctionCall.Name, Args: args})
	}

	if sig, ok := choice.GenerationInfo["thought_signature"].(string); ok && sig != "" {
		result.Signature = []byte(sig)
	}

	return result, nil
}

func langChainMessages(req Request) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolResult.CallID,
					Name:       msg.ToolResult.Name,
					Content:    msg.ToolResult.Content,
				}},
			})

		case RoleModel:
			var parts []llms.ContentPart
			if msg.Text != "" {
				parts = append(parts, llms.TextContent{Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: call.ArgsJSON(),
					},
				})
			}
			if len(parts) > 0 {
				messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
			}

		default:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg.Text))
		}
	}

	return messages
}

func langChainTools(specs []ToolSpec) []llms.Tool {
	result := make([]llms.Tool, 0, len(specs))

	for _, spec := range specs {
		properties := map[string]any{}
		required := []string{}

		for _, p := range spec.Params {
			typ := p.Type
			if typ == "" {
				typ = "string"
			}
			prop := map[string]any{}
			for k, v := range p.Schema {
				prop[k] = v
			}
			prop["type"] = typ
			if p.Description != "" {
				prop["description"] = p.Description
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}

		result = append(result, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}

	return result
}

var _ callbacks.Handler = LogCallbackHandler{}

// LogCallbackHandler reports langchaingo errors through slog.
type LogCallbackHandler struct {
	callbacks.SimpleHandler
}

func (l LogCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	if res == nil {
		return
	}
	slog.DebugContext(ctx, "LLM generate content end", "choices", len(res.Choices))
}

func (l LogCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "LLM error", "error", err)
}

func (l LogCallbackHandler) HandleToolError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "Tool error", "error", err)
}

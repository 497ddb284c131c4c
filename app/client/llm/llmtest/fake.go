// Package llmtest provides deterministic model and embedder doubles.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"hearth/app/client/llm"
)

var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *llm.Response
	Err      error
}

func Text(text string) Step {
	return Step{Response: &llm.Response{Text: text}}
}

func Call(name string, args map[string]any) Step {
	return Step{Response: &llm.Response{ToolCalls: []llm.ToolCall{{ID: "call-" + name, Name: name, Args: args}}}}
}

func Fail(err error) Step {
	return Step{Err: err}
}

// Model replays scripted steps in order and records every request.
type Model struct {
	mu       sync.Mutex
	steps    []Step
	Requests []llm.Request
	// Respond, when set, is used once the script is exhausted.
	Respond func(req llm.Request) (*llm.Response, error)
}

func NewModel(steps ...Step) *Model {
	return &Model{steps: steps}
}

func (m *Model) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

func (m *Model) Generate(_ context.Context, req llm.Request, onChunk func(string)) (*llm.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	var step Step
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
		m.mu.Unlock()
	} else {
		respond := m.Respond
		m.mu.Unlock()
		if respond == nil {
			return nil, ErrScriptExhausted
		}
		resp, err := respond(req)
		step = Step{Response: resp, Err: err}
	}

	if step.Err != nil {
		return nil, step.Err
	}

	resp := *step.Response
	if onChunk != nil && resp.Text != "" {
		for _, word := range strings.SplitAfter(resp.Text, " ") {
			onChunk(word)
		}
	}

	return &resp, nil
}

func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *Model) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

const dims = 64

// Embedder hashes words into a fixed-size bag-of-words vector, so texts
// sharing words are similar.
type Embedder struct {
	mu    sync.Mutex
	Calls int
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embed(text)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func embed(text string) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%dims]++
	}
	return vec
}

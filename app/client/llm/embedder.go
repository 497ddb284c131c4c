package llm

import (
	"context"

	"hearth/app/util/retry"

	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"google.golang.org/genai"
)

var _ embeddings.Embedder = (*GeminiEmbedder)(nil)

// embedBatch is the Gemini batch-embed request limit.
const embedBatch = 100

// GeminiEmbedder implements langchaingo's embeddings.Embedder on genai.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, oops.Errorf("gemini API key is required")
	}

	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create GenAI client")
	}

	return &GeminiEmbedder{client: client, model: model}, nil
}

// EmbedDocuments embeds texts in requests of at most embedBatch contents.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, batch := range embeddings.BatchTexts(texts, embedBatch) {
		embedded, err := e.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, embedded...)
	}

	return vectors, nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, oops.In("gemini").With("model", e.model, "batch", len(texts)).Wrapf(err, "embed content")
	}

	if len(result.Embeddings) != len(texts) {
		return nil, oops.In("gemini").Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}

	return vectors, nil
}

func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

var _ embeddings.Embedder = (*RetryingEmbedder)(nil)

// RetryingEmbedder applies the shared retry policy to embedding calls.
type RetryingEmbedder struct {
	Embedder embeddings.Embedder
	Policy   retry.Policy
}

func (r RetryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Value(ctx, r.Policy, "embed_documents", func(ctx context.Context) ([][]float32, error) {
		return r.Embedder.EmbedDocuments(ctx, texts)
	})
}

func (r RetryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return retry.Value(ctx, r.Policy, "embed_query", func(ctx context.Context) ([]float32, error) {
		return r.Embedder.EmbedQuery(ctx, text)
	})
}

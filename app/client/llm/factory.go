package llm

import (
	"context"

	"hearth/app/config"
	"hearth/app/util/retry"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
)

// Clients holds the models used by the application, built once per process
// and shared through the injector.
type Clients struct {
	Chat       Model
	Extraction Model
	Embedder   embeddings.Embedder
	Policy     retry.Policy
}

// Caller returns the extraction model bundled with the retry policy.
func (c *Clients) Caller() Caller {
	return Caller{Model: c.Extraction, Policy: c.Policy}
}

func New(di *do.Injector) (*Clients, error) {
	cfg := do.MustInvoke[*config.Config](di)
	ctx := do.MustInvoke[context.Context](di)

	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	policy := PolicyFromConfig(cfg)

	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		chat, err := NewOpenAI(cfg.LLM.BaseURL, apiKey, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel)
		if err != nil {
			return nil, err
		}

		extraction := chat
		if cfg.LLM.ExtractionModel != cfg.LLM.ChatModel {
			if extraction, err = NewOpenAI(cfg.LLM.BaseURL, apiKey, cfg.LLM.ExtractionModel, ""); err != nil {
				return nil, err
			}
		}

		embedder, err := embeddings.NewEmbedder(chat)
		if err != nil {
			return nil, oops.In("openai").Wrapf(err, "create embedder")
		}

		return &Clients{
			Chat:       NewLangChain(chat, cfg.LLM.ChatModel),
			Extraction: NewLangChain(extraction, cfg.LLM.ExtractionModel),
			Embedder:   RetryingEmbedder{Embedder: embedder, Policy: policy},
			Policy:     policy,
		}, nil

	default:
		chat, err := NewGemini(ctx, apiKey, cfg.LLM.ChatModel)
		if err != nil {
			return nil, err
		}

		extraction, err := NewGemini(ctx, apiKey, cfg.LLM.ExtractionModel)
		if err != nil {
			return nil, err
		}

		embedder, err := NewGeminiEmbedder(ctx, apiKey, cfg.LLM.EmbeddingModel)
		if err != nil {
			return nil, err
		}

		return &Clients{
			Chat:       chat,
			Extraction: extraction,
			Embedder:   RetryingEmbedder{Embedder: embedder, Policy: policy},
			Policy:     policy,
		}, nil
	}
}

func PolicyFromConfig(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Classify:    RetryDecision,
	}
}

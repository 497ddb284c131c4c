package config

import (
	"errors"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultPath = "config.yaml"
)

var ErrMissingAPIKey = errors.New("missing API key")

type Config struct {
	Log     Log    `yaml:"log"`
	DataDir string `yaml:"data_dir" validate:"required"`
	LLM     LLM    `yaml:"llm"`
	Retry   Retry  `yaml:"retry"`
	Agent   Agent  `yaml:"agent"`
	Graph   Graph  `yaml:"graph"`
	Server  Server `yaml:"server"`
	Engine  Engine `yaml:"engine"`
	MCP     MCP    `yaml:"mcp"`
}

type LLM struct {
	// Provider name, gemini or openai (any OpenAI-compatible endpoint)
	Provider string `yaml:"provider" example:"gemini" validate:"oneof=gemini openai"`
	// API key; when empty the variable named by APIKeyEnv is read
	APIKey string `yaml:"api_key"`
	// Environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env" example:"GEMINI_API_KEY"`
	// Base URL for OpenAI-compatible providers
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1"`
	// Model used for agent turns
	ChatModel string `yaml:"chat_model" example:"gemini-2.5-flash" validate:"required"`
	// Model used by batch extraction, classification and summaries
	ExtractionModel string `yaml:"extraction_model" example:"gemini-2.5-flash-lite" validate:"required"`
	// Embedding model for the similarity indexes
	EmbeddingModel string `yaml:"embedding_model" example:"gemini-embedding-001" validate:"required"`
	// Sampling temperature for agent turns
	Temperature float32 `yaml:"temperature" example:"0.9" validate:"gte=0,lte=2"`
}

type Retry struct {
	// Attempts per remote call for rate-limit class errors
	MaxAttempts int `yaml:"max_attempts" example:"5" validate:"gte=1,lte=20"`
	// Base delay; wait = base * 2^(attempt-1)
	BaseDelay time.Duration `yaml:"base_delay" example:"2s" validate:"gt=0"`
}

type Agent struct {
	// Re-think iterations allowed for silent responses
	MaxRethinks int `yaml:"max_rethinks" example:"2" validate:"gte=0,lte=5"`
}

type Graph struct {
	// Messages per extraction chunk
	ChunkSize int `yaml:"chunk_size" example:"10" validate:"gte=1"`
	// Entity recognizer, model or heuristic
	Recognizer string `yaml:"recognizer" example:"model" validate:"oneof=model heuristic"`
}

type Server struct {
	// HTTP listen address
	Listen string `yaml:"listen" example:":8080" validate:"required"`
}

type Engine struct {
	// How often due action plans and alarms are checked
	Tick time.Duration `yaml:"tick" example:"30s" validate:"gt=0"`
}

type MCP struct {
	Servers []MCPServer `yaml:"servers" validate:"dive"`
}

type MCPServer struct {
	// Prefix for the server's tool names
	Name string `yaml:"name" example:"web" validate:"required"`
	// Command starting the stdio MCP server
	Command string `yaml:"command" example:"docker" validate:"required"`
	// Command arguments
	Args []string `yaml:"args"`
}

type Log struct {
	// Minimum level: debug, info, warn, error
	Level string `yaml:"level" example:"info"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

// Load reads path (a missing file means defaults plus environment), fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	var result Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, oops.Errorf("failed to read config file: %w", err)
	default:
		if err = yaml.Unmarshal(data, &result); err != nil {
			return nil, oops.Errorf("failed to parse YAML config: %w", err)
		}
	}

	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderGemini
	}
	if c.LLM.APIKeyEnv == "" {
		if c.LLM.Provider == ProviderOpenAI {
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		} else {
			c.LLM.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
	if c.LLM.ChatModel == "" {
		if c.LLM.Provider == ProviderOpenAI {
			c.LLM.ChatModel = "gpt-4o-mini"
		} else {
			c.LLM.ChatModel = "gemini-2.5-flash"
		}
	}
	if c.LLM.ExtractionModel == "" {
		c.LLM.ExtractionModel = c.LLM.ChatModel
	}
	if c.LLM.EmbeddingModel == "" {
		if c.LLM.Provider == ProviderOpenAI {
			c.LLM.EmbeddingModel = "text-embedding-3-small"
		} else {
			c.LLM.EmbeddingModel = "gemini-embedding-001"
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.9
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 2 * time.Second
	}
	if c.Agent.MaxRethinks == 0 {
		c.Agent.MaxRethinks = 2
	}
	if c.Graph.ChunkSize == 0 {
		c.Graph.ChunkSize = 10
	}
	if c.Graph.Recognizer == "" {
		c.Graph.Recognizer = "model"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Engine.Tick == 0 {
		c.Engine.Tick = 30 * time.Second
	}
}

// ResolveAPIKey returns the configured key or the one from the environment.
func (c *Config) ResolveAPIKey() (string, error) {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey, nil
	}

	if key := os.Getenv(c.LLM.APIKeyEnv); key != "" {
		return key, nil
	}

	return "", oops.
		With("env", c.LLM.APIKeyEnv).
		Wrapf(ErrMissingAPIKey, "set llm.api_key or $%s", c.LLM.APIKeyEnv)
}

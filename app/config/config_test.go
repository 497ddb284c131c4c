package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "GEMINI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 2, cfg.Agent.MaxRethinks)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, cfg.LLM.ChatModel, cfg.LLM.ExtractionModel)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/hearth
llm:
  provider: openai
  base_url: https://openrouter.ai/api/v1
  chat_model: deepseek/deepseek-chat
retry:
  max_attempts: 3
  base_delay: 500ms
mcp:
  servers:
    - name: web
      command: docker
      args: ["run", "--rm", "-i", "mcp/fetch"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/hearth", cfg.DataDir)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	require.Len(t, cfg.MCP.Servers, 1)
	assert.Equal(t, "web", cfg.MCP.Servers[0].Name)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: carrier-pigeon\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	cfg := &Config{LLM: LLM{APIKeyEnv: "HEARTH_TEST_KEY"}}

	t.Setenv("HEARTH_TEST_KEY", "")
	_, err := cfg.ResolveAPIKey()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("HEARTH_TEST_KEY", "from-env")
	key, err := cfg.ResolveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	cfg.LLM.APIKey = "from-file"
	key, err = cfg.ResolveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)
}

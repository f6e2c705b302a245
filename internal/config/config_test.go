package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.True(t, cfg.Habu.UseMock)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, ProviderAuto, cfg.LLM.Provider)
	assert.Equal(t, 2, cfg.Chat.MaxRetries)
	assert.EqualValues(t, 1<<20, cfg.Server.MaxBodyBytes)
}

// TestLoadYAML tests file values and ${VAR} expansion
func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_HABU_SECRET", "s3cret")
	path := writeFile(t, "habubridge.yaml", `
server:
  addr: ":9090"
habu:
  use_mock: false
  client_id: my-client
  client_secret: ${TEST_HABU_SECRET}
cache:
  backend: badger
  badger_path: /tmp/habu-cache
  ttl_seconds:
    status: 30
llm:
  provider: ollama
  timeout: 45s
chat:
  retry_delay: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Habu.UseMock)
	assert.Equal(t, "s3cret", cfg.Habu.ClientSecret)
	assert.True(t, cfg.HasHabuCredentials())
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.CacheTTLs()["status"])
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.RetryDelay)
	assert.Equal(t, 2, cfg.Chat.MaxRetries, "unset keys keep defaults")
}

// TestEnvOverrides tests that the environment wins over the file
func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "habubridge.yaml", "cache:\n  backend: badger\n")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("HABU_USE_MOCK", "false")
	t.Setenv("PORT", "7000")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("LLM_PROVIDER", "Gemini")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.False(t, cfg.Habu.UseMock)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":         func(c *Config) { c.Server.Addr = "" },
		"unknown backend":    func(c *Config) { c.Cache.Backend = "memcached" },
		"bad ttl":            func(c *Config) { c.Cache.TTLSeconds = map[string]int{"status": 0} },
		"gemini without key": func(c *Config) { c.LLM.Provider = ProviderGemini },
		"unknown provider":   func(c *Config) { c.LLM.Provider = "gpt" },
		"live without url":   func(c *Config) { c.Habu.UseMock = false; c.Habu.BaseURL = "" },
		"negative retries":   func(c *Config) { c.Chat.MaxRetries = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "server: [unterminated"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "TEST_DOTENV_VALUE=from-file\n")
	t.Setenv("TEST_DOTENV_VALUE", "")
	os.Unsetenv("TEST_DOTENV_VALUE")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "from-file", os.Getenv("TEST_DOTENV_VALUE"))
}

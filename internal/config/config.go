// Package config loads habubridge configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all habubridge configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Habu   HabuConfig   `yaml:"habu"`
	Cache  CacheConfig  `yaml:"cache"`
	LLM    LLMConfig    `yaml:"llm"`
	Chat   ChatConfig   `yaml:"chat"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig controls the HTTP bridge
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	APIKey         string        `yaml:"api_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// HabuConfig controls the remote client
type HabuConfig struct {
	UseMock            bool          `yaml:"use_mock"`
	BaseURL            string        `yaml:"base_url"`
	TokenURL           string        `yaml:"token_url"`
	ClientID           string        `yaml:"client_id"`
	ClientSecret       string        `yaml:"client_secret"`
	DefaultCleanroomID string        `yaml:"default_cleanroom_id"`
	RequestsPerHour    int           `yaml:"requests_per_hour"`
	AuditLogEnabled    bool          `yaml:"audit_log_enabled"`
	AuditLogPath       string        `yaml:"audit_log_path"`
	MockRunDuration    time.Duration `yaml:"mock_run_duration"`
}

// CacheConfig controls the response cache
type CacheConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Backend       string         `yaml:"backend"`
	RedisURL      string         `yaml:"redis_url"`
	RedisPassword string         `yaml:"redis_password"`
	RedisDB       int            `yaml:"redis_db"`
	Namespace     string         `yaml:"namespace"`
	BadgerPath    string         `yaml:"badger_path"`
	TTLSeconds    map[string]int `yaml:"ttl_seconds"`
}

// LLMConfig selects and configures the classification model
type LLMConfig struct {
	// Provider is "auto", "gemini", "ollama" or "none". auto prefers Gemini
	// when a key is set and otherwise uses the keyword classifier.
	Provider      string        `yaml:"provider"`
	GeminiAPIKey  string        `yaml:"gemini_api_key"`
	GeminiModel   string        `yaml:"gemini_model"`
	OllamaURL     string        `yaml:"ollama_url"`
	OllamaModel   string        `yaml:"ollama_model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// ChatConfig controls the chat dispatcher
type ChatConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxSessions    int           `yaml:"max_sessions"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxTurns       int           `yaml:"max_turns"`
	CacheReplies   bool          `yaml:"cache_replies"`
}

// LogConfig controls logging
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LLM provider names
const (
	ProviderAuto   = "auto"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
		},
		Habu: HabuConfig{
			UseMock:         true,
			BaseURL:         "https://api.habu.com/v1",
			TokenURL:        "https://api.habu.com/v1/oauth/token",
			RequestsPerHour: 3600,
			AuditLogEnabled: true,
			AuditLogPath:    "~/.habubridge/audit.db",
			MockRunDuration: 2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "redis",
			RedisURL:   "localhost:6379",
			Namespace:  "habu:",
			BadgerPath: "~/.habubridge/cache",
		},
		LLM: LLMConfig{
			Provider:      ProviderAuto,
			GeminiModel:   "gemini-2.0-flash",
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "qwen2.5:7b",
			Timeout:       30 * time.Second,
			MaxConcurrent: 4,
		},
		Chat: ChatConfig{
			MaxRetries:     2,
			RetryDelay:     500 * time.Millisecond,
			RequestTimeout: 60 * time.Second,
			MaxSessions:    1000,
			SessionTTL:     time.Hour,
			MaxTurns:       10,
			CacheReplies:   true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration. path may be empty; when set, the YAML file
// is read with ${VAR} references expanded. Environment variables override
// both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := getEnv("PORT", ""); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = getEnv("HABUBRIDGE_ADDR", c.Server.Addr)
	c.Server.APIKey = getEnv("HABUBRIDGE_API_KEY", c.Server.APIKey)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	c.Habu.UseMock = getEnvBool("HABU_USE_MOCK", c.Habu.UseMock)
	c.Habu.BaseURL = getEnv("HABU_API_BASE_URL", c.Habu.BaseURL)
	c.Habu.TokenURL = getEnv("HABU_TOKEN_URL", c.Habu.TokenURL)
	c.Habu.ClientID = getEnv("HABU_CLIENT_ID", c.Habu.ClientID)
	c.Habu.ClientSecret = getEnv("HABU_CLIENT_SECRET", c.Habu.ClientSecret)
	c.Habu.DefaultCleanroomID = getEnv("HABU_CLEANROOM_ID", c.Habu.DefaultCleanroomID)
	c.Habu.RequestsPerHour = getEnvInt("HABU_REQUESTS_PER_HOUR", c.Habu.RequestsPerHour)
	c.Habu.AuditLogEnabled = getEnvBool("HABU_AUDIT_LOG_ENABLED", c.Habu.AuditLogEnabled)
	c.Habu.AuditLogPath = getEnv("HABU_AUDIT_LOG_PATH", c.Habu.AuditLogPath)

	c.Cache.Enabled = getEnvBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Backend = getEnv("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("REDIS_DB", c.Cache.RedisDB)
	c.Cache.Namespace = getEnv("CACHE_NAMESPACE", c.Cache.Namespace)
	c.Cache.BadgerPath = getEnv("BADGER_PATH", c.Cache.BadgerPath)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.GeminiAPIKey = getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", c.LLM.GeminiAPIKey))
	c.LLM.GeminiModel = getEnv("GEMINI_MODEL", c.LLM.GeminiModel)
	c.LLM.OllamaURL = getEnv("OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OllamaModel = getEnv("OLLAMA_MODEL", c.LLM.OllamaModel)
	c.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout)

	c.Chat.MaxRetries = getEnvInt("CHAT_MAX_RETRIES", c.Chat.MaxRetries)
	c.Chat.CacheReplies = getEnvBool("CHAT_CACHE_REPLIES", c.Chat.CacheReplies)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("LOG_DEVELOPMENT", c.Log.Development)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be > 0")
	}
	if !c.Habu.UseMock {
		if c.Habu.BaseURL == "" {
			return fmt.Errorf("HABU_API_BASE_URL cannot be empty")
		}
		if c.Habu.TokenURL == "" {
			return fmt.Errorf("HABU_TOKEN_URL cannot be empty")
		}
	}
	if c.Habu.RequestsPerHour <= 0 {
		return fmt.Errorf("HABU_REQUESTS_PER_HOUR must be > 0")
	}
	switch c.Cache.Backend {
	case "redis", "badger", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	for category, ttl := range c.Cache.TTLSeconds {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl for %s must be > 0", category)
		}
	}
	switch c.LLM.Provider {
	case ProviderAuto, ProviderNone, ProviderOllama:
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}
	if c.Chat.MaxRetries < 0 {
		return fmt.Errorf("chat max_retries cannot be negative")
	}
	return nil
}

// HasHabuCredentials reports whether live mode can authenticate
func (c *Config) HasHabuCredentials() bool {
	return c.Habu.ClientID != "" && c.Habu.ClientSecret != ""
}

// CacheTTLs returns the configured TTL overrides
func (c *Config) CacheTTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Cache.TTLSeconds))
	for category, secs := range c.Cache.TTLSeconds {
		out[category] = time.Duration(secs) * time.Second
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

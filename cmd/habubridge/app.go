package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/habubridge/habubridge/internal/agent"
	"github.com/habubridge/habubridge/internal/api"
	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/config"
	"github.com/habubridge/habubridge/internal/inference"
	"github.com/habubridge/habubridge/internal/integration"
	"github.com/habubridge/habubridge/internal/mcp"
	"github.com/habubridge/habubridge/internal/tools"
	"go.uber.org/zap"
)

// app holds the wired components shared by every command
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	cache      *cache.Cache
	client     integration.Client
	registry   *tools.Registry
	dispatcher *agent.Dispatcher
	mcp        *mcp.Server

	// set when an LLM classifier is in use
	llmPool    *inference.Pool
	llmBreaker *integration.Breaker

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.cache = cache.Open(ctx, cacheConfig(cfg, logger), logger)
	a.closers = append(a.closers, a.cache.Close)

	client, err := a.buildClient()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client

	a.registry = tools.NewDefaultRegistry(client, a.cache, logger)
	a.dispatcher = agent.NewDispatcher(a.buildClassifier(ctx), a.registry, a.cache, dispatcherConfig(cfg), logger)
	a.mcp = mcp.New(a.registry, version, logger)

	logger.Info("habubridge ready",
		zap.String("client", client.Name()),
		zap.String("classifier", a.dispatcher.ClassifierName()),
		zap.Bool("cache_connected", a.cache.Connected()),
		zap.Int("tools", len(a.registry.List())))
	return a, nil
}

// Handler returns the HTTP bridge
func (a *app) Handler() http.Handler {
	return api.NewServer(api.Options{
		Version:        version,
		ClientMode:     a.client.Name(),
		APIKey:         a.cfg.Server.APIKey,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		Diagnostics:    a.Diagnostics,
	}, a.registry, a.dispatcher, a.cache, a.mcp, a.logger).Router()
}

// Diagnostics reports the Habu client's guards and the LLM pool
func (a *app) Diagnostics(ctx context.Context) map[string]interface{} {
	out := map[string]interface{}{
		"client":     a.client.Name(),
		"classifier": a.dispatcher.ClassifierName(),
	}
	if live, ok := a.client.(*integration.LiveClient); ok {
		out["habu"] = live.Diagnostics(ctx)
	}
	if a.llmPool != nil {
		out["llm"] = map[string]interface{}{
			"circuit": a.llmBreaker.State(),
			"pool":    a.llmPool.Metrics(),
		}
	}
	return out
}

// Close releases backends in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) buildClient() (integration.Client, error) {
	cfg := a.cfg.Habu
	if cfg.UseMock {
		return integration.NewMockClient(cfg.MockRunDuration), nil
	}

	if !a.cfg.HasHabuCredentials() {
		// calls will fail with a ConfigurationError until credentials are set
		a.logger.Warn("HABU_CLIENT_ID or HABU_CLIENT_SECRET not set")
	}

	icfg := integration.DefaultConfig()
	icfg.BaseURL = cfg.BaseURL
	icfg.OAuth2 = &integration.OAuth2Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	icfg.DefaultCleanroomID = cfg.DefaultCleanroomID
	icfg.RequestsPerHour = cfg.RequestsPerHour
	icfg.AuditLogEnabled = cfg.AuditLogEnabled
	icfg.AuditLogPath = cfg.AuditLogPath

	auth := integration.NewAuthenticator(icfg.OAuth2, icfg.RefreshMargin, icfg.TokenTimeout, nil)

	limiter := integration.NewTokenBucketRateLimiter()
	limiter.RegisterService(string(integration.ServiceTypeHabu), icfg.RequestsPerHour)

	var auditor integration.AuditLogger
	if icfg.AuditLogEnabled {
		audit, err := integration.NewSQLiteAuditLogger(icfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.closers = append(a.closers, audit.Close)
		auditor = audit
	}

	breaker := integration.NewBreaker("habu", icfg.BreakerThreshold, icfg.BreakerTimeout, a.logger)
	return integration.NewLiveClient(icfg, auth, limiter, auditor, breaker, a.logger), nil
}

func cacheConfig(cfg *config.Config, logger *zap.Logger) *cache.Config {
	cc := cache.DefaultConfig()
	cc.Enabled = cfg.Cache.Enabled
	cc.Backend = cfg.Cache.Backend
	cc.RedisURL = cfg.Cache.RedisURL
	cc.RedisPassword = cfg.Cache.RedisPassword
	cc.RedisDB = cfg.Cache.RedisDB
	cc.Namespace = cfg.Cache.Namespace
	cc.BadgerPath = cfg.Cache.BadgerPath

	cc.TTLs = make(map[cache.Category]time.Duration)
	for name, ttl := range cfg.CacheTTLs() {
		category := cache.Category(name)
		if _, ok := cache.DefaultTTLs[category]; !ok {
			logger.Warn("ignoring ttl for unknown cache category", zap.String("category", name))
			continue
		}
		cc.TTLs[category] = ttl
	}
	return cc
}

// buildClassifier picks the LLM classifier when a provider is usable and
// the keyword rules otherwise
func (a *app) buildClassifier(ctx context.Context) agent.Classifier {
	cfg, logger := a.cfg, a.logger
	provider := cfg.LLM.Provider
	if provider == config.ProviderAuto {
		provider = config.ProviderNone
		if cfg.LLM.GeminiAPIKey != "" {
			provider = config.ProviderGemini
		}
	}

	var gen inference.Generator
	switch provider {
	case config.ProviderGemini:
		client, err := inference.NewGeminiClient(ctx, &inference.GeminiConfig{
			APIKey:      cfg.LLM.GeminiAPIKey,
			Model:       cfg.LLM.GeminiModel,
			Temperature: 0.1,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Warn("gemini unavailable, using keyword classifier", zap.Error(err))
			return agent.NewKeywordClassifier()
		}
		gen = client
	case config.ProviderOllama:
		ocfg := inference.DefaultConfig()
		ocfg.OllamaURL = cfg.LLM.OllamaURL
		ocfg.Model = cfg.LLM.OllamaModel
		ocfg.Timeout = cfg.LLM.Timeout
		client := inference.NewClient(ocfg)

		checkCtx, cancel := context.WithTimeout(ctx, ollamaCheckTimeout)
		err := client.CheckModel(checkCtx)
		cancel()
		if err != nil {
			logger.Warn("ollama unavailable, using keyword classifier", zap.Error(err))
			return agent.NewKeywordClassifier()
		}
		gen = client
	default:
		return agent.NewKeywordClassifier()
	}

	a.llmPool = inference.NewPool(gen, cfg.LLM.MaxConcurrent)
	a.llmBreaker = integration.NewBreaker("llm", 5, 30*time.Second, logger)
	return agent.NewLLMClassifier(a.llmPool, a.llmBreaker, logger)
}

const ollamaCheckTimeout = 5 * time.Second

func dispatcherConfig(cfg *config.Config) *agent.DispatcherConfig {
	return &agent.DispatcherConfig{
		MaxRetries:     cfg.Chat.MaxRetries,
		RetryDelay:     cfg.Chat.RetryDelay,
		RequestTimeout: cfg.Chat.RequestTimeout,
		MaxSessions:    cfg.Chat.MaxSessions,
		SessionTTL:     cfg.Chat.SessionTTL,
		MaxTurns:       cfg.Chat.MaxTurns,
		CacheReplies:   cfg.Chat.CacheReplies,
	}
}

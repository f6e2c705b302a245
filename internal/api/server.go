// Package api provides the HTTP bridge: REST endpoints per tool, the chat
// endpoint, health and cache statistics, and MCP over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/habubridge/habubridge/internal/agent"
	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/mcp"
	"github.com/habubridge/habubridge/internal/tools"
	"go.uber.org/zap"
)

// Options configures the HTTP bridge
type Options struct {
	Version        string
	ClientMode     string // "mock" or "live"
	APIKey         string
	AllowedOrigins []string
	MaxBodyBytes   int64

	// Diagnostics backs GET /api/diagnostics when set
	Diagnostics func(ctx context.Context) map[string]interface{}
}

// Server holds the HTTP bridge dependencies
type Server struct {
	opts       Options
	registry   *tools.Registry
	dispatcher *agent.Dispatcher
	cache      *cache.Cache
	mcp        *mcp.Server
	logger     *zap.Logger
	started    time.Time
}

// NewServer creates the bridge. c may be nil when caching is disabled.
func NewServer(
	opts Options,
	registry *tools.Registry,
	dispatcher *agent.Dispatcher,
	c *cache.Cache,
	mcpServer *mcp.Server,
	logger *zap.Logger,
) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:       opts,
		registry:   registry,
		dispatcher: dispatcher,
		cache:      c,
		mcp:        mcpServer,
		logger:     logger.Named("api"),
		started:    time.Now(),
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.opts.AllowedOrigins))
	r.Use(Compress)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Get("/cache-stats", s.CacheStats)
		r.Get("/tools", s.Tools)
		r.Post("/enhanced-chat", s.Chat)
		r.Get("/mcp/{tool}", s.InvokeTool)
		r.Post("/mcp/{tool}", s.InvokeTool)

		// operator surface shares the MCP endpoint's key
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(s.opts.APIKey))
			r.Get("/mcp/"+tools.NameCacheInvalidate, s.invalidateCache)
			r.Post("/mcp/"+tools.NameCacheInvalidate, s.invalidateCache)
			if s.opts.Diagnostics != nil {
				r.Get("/diagnostics", s.Diagnostics)
			}
		})
	})

	if s.mcp != nil {
		r.With(RequireAPIKey(s.opts.APIKey)).Post("/mcp", s.mcp.ServeHTTP)
	}

	return r
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response in the tool result shape
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{
		"status":  tools.StatusError,
		"error":   message,
		"summary": message,
	})
}

// Health reports liveness and the configured strategies
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	cacheStatus := map[string]interface{}{"connected": false, "backend": "disabled"}
	if s.cache != nil {
		cacheStatus["connected"] = s.cache.Connected()
		cacheStatus["backend"] = s.cache.Stats(r.Context()).Backend
	}

	status := map[string]interface{}{
		"status":         "healthy",
		"version":        s.opts.Version,
		"mode":           s.opts.ClientMode,
		"cache":          cacheStatus,
		"tools":          len(s.registry.List()),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.dispatcher != nil {
		status["classifier"] = s.dispatcher.ClassifierName()
		status["sessions"] = s.dispatcher.Sessions().Len()
	}
	JSON(w, http.StatusOK, status)
}

// CacheStats reports cache counters and key counts
func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		JSON(w, http.StatusOK, cache.Stats{Backend: "disabled", KeyCountsByCategory: map[string]int{}})
		return
	}
	stats := s.cache.Stats(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{
		"connected":              stats.Connected,
		"backend":                stats.Backend,
		"hits":                   stats.Hits,
		"misses":                 stats.Misses,
		"writes":                 stats.Writes,
		"errors":                 stats.Errors,
		"hit_rate":               stats.HitRate,
		"total_keys":             stats.TotalKeys,
		"key_counts_by_category": stats.KeyCountsByCategory,
		"ttls":                   s.cache.CategoryTTLs(),
	})
}

type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Tools lists the registered tools
func (s *Server) Tools(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := make([]toolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"count": len(out), "tools": out})
}

// InvokeTool runs one tool. GET takes arguments from the query string, POST
// from a JSON object body. Tool failures are reported in the body with
// status "error"; only malformed requests and unknown tools change the HTTP
// status.
func (s *Server) InvokeTool(w http.ResponseWriter, r *http.Request) {
	s.invoke(w, r, chi.URLParam(r, "tool"))
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	s.invoke(w, r, tools.NameCacheInvalidate)
}

// Diagnostics reports breaker, limiter, audit and LLM pool state
func (s *Server) Diagnostics(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.opts.Diagnostics(r.Context()))
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := s.registry.Get(name); !ok {
		Error(w, http.StatusNotFound, "unknown tool: "+name)
		return
	}

	args := tools.Args{}
	if r.Method == http.MethodGet {
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				args[key] = values[0]
			}
		}
	} else if err := s.decodeBody(w, r, &args); err != nil {
		Error(w, bodyErrorStatus(err), err.Error())
		return
	}

	JSON(w, http.StatusOK, s.registry.Invoke(r.Context(), name, args))
}

var errBodyTooLarge = errors.New("request body too large")

func bodyErrorStatus(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// ChatRequest is the body of the chat endpoint
type ChatRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the reply of the chat endpoint
type ChatResponse struct {
	Response  string `json:"response"`
	Cached    bool   `json:"cached"`
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	State     string `json:"state"`
}

// Chat runs one turn of the chat dispatcher
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		Error(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req ChatRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		Error(w, bodyErrorStatus(err), err.Error())
		return
	}

	turn := s.dispatcher.Process(r.Context(), req.SessionID, req.UserInput)
	JSON(w, http.StatusOK, ChatResponse{
		Response:  turn.ReplyText,
		Cached:    turn.Cached,
		SessionID: turn.SessionID,
		Action:    string(turn.ResolvedAction),
		State:     string(turn.State),
	})
}

// decodeBody reads a bounded JSON object. An empty body leaves v unchanged.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errors.New("could not read request body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator produces a JSON document conforming to schema. Implementations
// enforce the schema on the provider side where the provider supports it.
type Generator interface {
	Name() string
	GenerateStructured(ctx context.Context, system, prompt string, schema *Schema) (string, error)
}

// Config holds the Ollama client configuration
type Config struct {
	OllamaURL   string  // Default: http://localhost:11434
	Model       string  // Default: qwen2.5:7b
	ContextSize int     // Default: 8192
	Temperature float64 // Default: 0.2
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		OllamaURL:   "http://localhost:11434",
		Model:       "qwen2.5:7b",
		ContextSize: 8192,
		Temperature: 0.2,
		Timeout:     30 * time.Second,
	}
}

// Client talks to a local Ollama server
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new Ollama client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name identifies the provider
func (c *Client) Name() string {
	return "ollama:" + c.config.Model
}

// GenerateRequest represents a request to Ollama
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Format  interface{}            `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse represents a response from Ollama
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// GenerateStructured asks Ollama for output constrained to schema through
// the "format" field
func (c *Client) GenerateStructured(ctx context.Context, system, prompt string, schema *Schema) (string, error) {
	var format interface{} = "json"
	if schema != nil {
		format = schema.JSONSchema()
	}

	resp, err := c.generate(ctx, c.request(system, prompt, format))
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) request(system, prompt string, format interface{}) GenerateRequest {
	return GenerateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		System: system,
		Stream: false,
		Format: format,
		Options: map[string]interface{}{
			"num_ctx":     c.config.ContextSize,
			"temperature": c.config.Temperature,
		},
	}
}

// generate posts to /api/generate and decodes the single response object
func (c *Client) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/generate"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !genResp.Done {
		return nil, fmt.Errorf("generation did not complete")
	}
	return &genResp, nil
}

// CheckModel verifies the server is reachable and has the configured model
// pulled. A bare name matches its ":latest" tag.
func (c *Client) CheckModel(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/tags"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == c.config.Model || m.Name == c.config.Model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %s is not pulled; run: ollama pull %s", c.config.Model, c.config.Model)
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.OllamaURL, "/") + path
}

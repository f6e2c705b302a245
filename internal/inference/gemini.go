package inference

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig holds Gemini client configuration
type GeminiConfig struct {
	APIKey      string
	Model       string // Default: gemini-2.0-flash
	Temperature float32
	Timeout     time.Duration
}

// GeminiClient generates structured output with Google's Gemini API. The
// response schema is enforced by the provider.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewGeminiClient creates a Gemini client
func NewGeminiClient(ctx context.Context, config *GeminiConfig) (*GeminiClient, error) {
	if config == nil || config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	model := config.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: config.Temperature,
		timeout:     timeout,
	}, nil
}

// Name identifies the provider
func (g *GeminiClient) Name() string {
	return "gemini:" + g.model
}

// GenerateStructured requests a JSON response conforming to schema
func (g *GeminiClient) GenerateStructured(ctx context.Context, system, prompt string, schema *Schema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema.GenAI(),
		Temperature:      genai.Ptr(g.temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned no content")
	}
	return text, nil
}

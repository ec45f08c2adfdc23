package llm

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// DefaultGeminiModel serves the Base selector when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures a GeminiGenerator. With APIKey set the Gemini
// Developer API is used, otherwise Vertex AI in Project/Location.
type GeminiConfig struct {
	APIKey    string
	Project   string
	Location  string
	BaseModel string
	// TunedEndpoint is the fully qualified endpoint of the fine-tuned
	// deployment. Empty leaves the Tuned selector unavailable.
	TunedEndpoint string
	Temperature   *float32
	// BaseURL overrides the service endpoint, for proxies and tests.
	BaseURL string
}

// GeminiGenerator calls Gemini models through the Google GenAI SDK.
type GeminiGenerator struct {
	client      *genai.Client
	models      models
	temperature *float32
	logger      *slog.Logger
}

// NewGeminiGenerator creates the client. It does not contact the service.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiGenerator, error) {
	if cfg.BaseModel == "" {
		cfg.BaseModel = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.APIKey == "" {
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("vertex project and location are required without an API key")
		}
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.Info("Initialized Gemini generator",
		"base_model", cfg.BaseModel,
		"tuned", cfg.TunedEndpoint != "",
		"location", cfg.Location)

	return &GeminiGenerator{
		client:      client,
		models:      models{base: cfg.BaseModel, tuned: cfg.TunedEndpoint},
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Available reports whether sel resolves to a configured model.
func (g *GeminiGenerator) Available(sel Selector) error {
	_, err := g.models.resolve(sel)
	return err
}

// Generate sends prompt as a single user turn.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, sel Selector) (string, error) {
	model, err := g.models.resolve(sel)
	if err != nil {
		return "", err
	}

	var config *genai.GenerateContentConfig
	if g.temperature != nil {
		config = &genai.GenerateContentConfig{Temperature: g.temperature}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	g.logger.Debug("Generating via Gemini", "model", model, "selector", sel.String())

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	return resp.Text(), nil
}

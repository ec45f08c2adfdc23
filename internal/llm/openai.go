package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel serves the Base selector when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAIGenerator. BaseURL targets any
// OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	BaseModel string
	// TunedModel is the fine-tuned model id (ft:...). Empty leaves the Tuned
	// selector unavailable.
	TunedModel  string
	Temperature *float32
}

// OpenAIGenerator calls chat completion models.
type OpenAIGenerator struct {
	client      *openai.Client
	models      models
	temperature *float32
	logger      *slog.Logger
}

// NewOpenAIGenerator creates the client.
func NewOpenAIGenerator(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	if cfg.BaseModel == "" {
		cfg.BaseModel = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("Initialized OpenAI generator", "base_model", cfg.BaseModel, "tuned", cfg.TunedModel != "")

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		models:      models{base: cfg.BaseModel, tuned: cfg.TunedModel},
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Available reports whether sel resolves to a configured model.
func (o *OpenAIGenerator) Available(sel Selector) error {
	_, err := o.models.resolve(sel)
	return err
}

// Generate sends prompt as a single user message.
func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string, sel Selector) (string, error) {
	model, err := o.models.resolve(sel)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	o.logger.Debug("Generating via OpenAI", "model", model, "selector", sel.String())

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

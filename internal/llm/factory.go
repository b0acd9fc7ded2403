package llm

import (
	"context"
	"fmt"

	"github.com/agenthands/recall/internal/config"
)

// NewFromConfig builds the provider client the configuration names.
// "ollama" rides the OpenAI-compatible endpoint, so it reuses that client
// with the configured base URL.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, baseURL), nil
	case "claude":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

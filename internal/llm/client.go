package llm

import "context"

// LLMClient generates text completions. Implementations wrap one provider.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient turns text into a vector. Kept separate from LLMClient
// because some providers (Anthropic) generate but do not embed.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the full provider surface used by the ingestion pipeline.
type Client interface {
	LLMClient
	EmbedderClient
}

package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/recall/internal/common"
	"github.com/agenthands/recall/internal/llm"
)

// CandidateEntity is an entity mention pulled from raw event content. The
// extractor proposes; the resolver decides what it binds to.
type CandidateEntity struct {
	Mention    string                 `json:"mention"`
	Type       string                 `json:"type"`
	KnownID    string                 `json:"known_id,omitempty"`
	Confidence float64                `json:"confidence"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CandidateEdge is a relationship assertion between two mentions, referenced
// by their surface forms.
type CandidateEdge struct {
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Type       string                 `json:"type"`
	Fact       string                 `json:"fact"`
	Confidence float64                `json:"confidence"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Candidates is the full extraction result for one event.
type Candidates struct {
	Entities []CandidateEntity `json:"entities"`
	Edges    []CandidateEdge   `json:"edges"`
}

// Extractor turns raw event content into structured candidates.
type Extractor interface {
	Extract(ctx context.Context, content string, timestamp time.Time) (Candidates, error)
}

const extractionPrompt = `You are an information extraction system for a personal knowledge graph.

Given the text below, extract:
1. Entities: people, organizations, places, projects, products. For each give
   "mention" (the exact surface form), "type" (Person, Company, Place, Project, Product, or Other),
   "confidence" (0-1), and "attributes" (any attribute values the text asserts
   about the entity, e.g. {"location": "Berlin"}).
2. Edges: relationships between extracted entities. For each give "source" and
   "target" (entity mentions), "type" (an UPPER_SNAKE_CASE relation like WORKS_AT),
   "fact" (one sentence stating the relationship), and "confidence" (0-1).

Reference time for relative dates: %s

Text:
%s

Respond with ONLY a JSON object:
{"entities": [...], "edges": [...]}`

// LLMExtractor prompts a language model and parses its JSON reply.
type LLMExtractor struct {
	client llm.LLMClient
	prompt string
}

// NewLLMExtractor builds an extractor. promptOverride replaces the built-in
// prompt when non-empty; it must keep the two %s verbs (reference time,
// then text).
func NewLLMExtractor(client llm.LLMClient, promptOverride string) *LLMExtractor {
	p := extractionPrompt
	if strings.TrimSpace(promptOverride) != "" {
		p = promptOverride
	}
	return &LLMExtractor{client: client, prompt: p}
}

func (e *LLMExtractor) Extract(ctx context.Context, content string, timestamp time.Time) (Candidates, error) {
	prompt := fmt.Sprintf(e.prompt, timestamp.UTC().Format(time.RFC3339), content)

	resp, err := e.client.Generate(ctx, prompt)
	if err != nil {
		return Candidates{}, fmt.Errorf("extraction generate failed: %w", err)
	}

	cands, err := common.ParseJSON[Candidates](resp)
	if err != nil {
		return Candidates{}, fmt.Errorf("extraction parse failed: %w", err)
	}

	// Edges referencing mentions that were never extracted are unusable
	// downstream; drop them here rather than letting the resolver guess.
	mentions := make(map[string]bool, len(cands.Entities))
	for _, ent := range cands.Entities {
		mentions[strings.ToLower(ent.Mention)] = true
	}
	kept := cands.Edges[:0]
	for _, edge := range cands.Edges {
		if mentions[strings.ToLower(edge.Source)] && mentions[strings.ToLower(edge.Target)] {
			kept = append(kept, edge)
		}
	}
	cands.Edges = kept

	return cands, nil
}

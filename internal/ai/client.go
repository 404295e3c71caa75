package ai

import (
	"context"
	"errors"
)

// Embedder turns text into vectors for the Corpus Store's vector index.
type Embedder interface {
	// EmbedOne embeds a single piece of text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany embeds a batch of texts, issuing requests of at most
	// batchSize items at a time. The returned slice preserves input order.
	EmbedMany(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	// Dim reports the embedding dimensionality.
	Dim() int
}

// Oracle is a single-shot prompt-in, text-out chat completion capability.
// The planner, synthesizer, verifier and strategist all drive it with
// different prompts; none of them know or care which provider answers.
type Oracle interface {
	Invoke(ctx context.Context, prompt string, temperature float32) (string, error)
}

// Client bundles both capabilities behind one provider-selected backend.
type Client interface {
	Embedder
	Oracle
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey       string
	EmbedModel   string
	SummaryModel string
	Dim          int
	ProjectID    string
	Provider     Provider
	Location     string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// embedManyBySingle is the batching shim shared by clients whose upstream
// API has no native batch-embed endpoint: it walks texts in groups of
// batchSize, calling embedOne for each, and bails out on the first error.
func embedManyBySingle(ctx context.Context, texts []string, batchSize int, embedOne func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, t := range texts[start:end] {
			v, err := embedOne(ctx, t)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// EmbedOne derives a vector of the configured dimension from the input's
// characters. It is deterministic so retrieval tests can reason about
// distances.
func (s *StubClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for i, r := range text {
		if i >= s.dim {
			break
		}
		v[i] = float32(r%97) / 97.0
	}
	return v, nil
}

// EmbedMany embeds each text independently; the stub has no batch API.
func (s *StubClient) EmbedMany(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return embedManyBySingle(ctx, texts, batchSize, s.EmbedOne)
}

// Invoke returns a canned response derived from the prompt so agent-loop
// tests can exercise the full Plan/Retrieve/Synthesize/Verify/Finalize
// loop without a live model.
func (s *StubClient) Invoke(ctx context.Context, prompt string, temperature float32) (string, error) {
	return "stub response for: " + truncate(prompt, 64), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

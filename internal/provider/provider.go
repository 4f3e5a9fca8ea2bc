package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder extends Embedder with batch embedding support.
// Providers that support native batch embedding (e.g., OpenAI) should implement this
// for better performance. Other providers can use EmbedBatchSequential as a fallback.
type BatchEmbedder interface {
	Embedder
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedBatchSequential implements batch embedding by calling Embed sequentially.
// Use this as a fallback for providers that don't support native batch embedding.
func EmbedBatchSequential(ctx context.Context, embedder Embedder, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		results[i] = emb
	}
	return results, nil
}

// EmbedBatch embeds texts with e's native batch support when it has one.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	return EmbedBatchSequential(ctx, e, texts)
}

// BatchError reports which text of a batch failed to embed. Index is relative
// to the batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// EmbedderConfig holds configuration for creating an Embedder.
type EmbedderConfig struct {
	Type   string
	Model  string
	APIKey string
	URL    string
	// CacheSize enables an in-memory LRU of recent embeddings when positive.
	CacheSize int
}

// NewEmbedder builds the embedder described by cfg.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	var e Embedder
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder requires an api_key")
		}
		e = NewOpenAIEmbedder(cfg.APIKey, cfg.Model)
	case "ollama", "":
		e = NewOllamaEmbedder(cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s", cfg.Type)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachingEmbedder(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}

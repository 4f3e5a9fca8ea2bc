package provider

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingEmbedder memoizes embeddings of identical texts. A search repeated
// within one process, or a refetch of unchanged repositories, skips the
// provider entirely.
type CachingEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps next with an LRU holding up to size vectors.
func NewCachingEmbedder(next Embedder, size int) (*CachingEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachingEmbedder{next: next, cache: cache}, nil
}

// Embed returns the cached vector for text or asks the wrapped embedder.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// EmbedBatch forwards only the cache misses, in one batch, to the wrapped embedder.
func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			results[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := EmbedBatch(ctx, c.next, missTexts)
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return nil, &BatchError{Index: missIdx[be.Index], Err: be.Err}
		}
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrInvalidResponse, len(missTexts), len(vecs))
	}
	for j, v := range vecs {
		results[missIdx[j]] = v
		c.cache.Add(missTexts[j], v)
	}
	return results, nil
}

// Len reports the number of cached vectors.
func (c *CachingEmbedder) Len() int {
	return c.cache.Len()
}

var _ BatchEmbedder = (*CachingEmbedder)(nil)

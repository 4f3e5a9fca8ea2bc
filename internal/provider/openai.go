package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model, or an unknown one, is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

var openAIModels = map[string]openai.EmbeddingModel{
	"text-embedding-3-small": openai.SmallEmbedding3,
	"text-embedding-3-large": openai.LargeEmbedding3,
	"text-embedding-ada-002": openai.AdaEmbeddingV2,
}

// OpenAIEmbedder implements BatchEmbedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates a new OpenAIEmbedder. Unknown models fall back
// to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newOpenAIEmbedderWithClient(openai.NewClient(apiKey), model)
}

func newOpenAIEmbedderWithClient(client *openai.Client, model string) *OpenAIEmbedder {
	m, ok := openAIModels[model]
	if !ok {
		m = openAIModels[DefaultOpenAIModel]
	}
	return &OpenAIEmbedder{client: client, model: m}
}

// Embed returns a vector embedding for the given text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return nil, be.Err
		}
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends every text in one request and returns the vectors in input order.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, &BatchError{Index: i, Err: fmt.Errorf("cannot embed empty text")}
		}
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		return nil, classifyOpenAIError(ctx, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrInvalidResponse, len(texts), len(resp.Data))
	}

	results := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		// Responses built without an index fall back to position.
		if idx < 0 || idx >= len(texts) || results[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, &BatchError{Index: idx, Err: fmt.Errorf("%w: empty embedding", ErrInvalidResponse)}
		}
		results[idx] = d.Embedding
	}
	return results, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimit, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", ErrTimeout, err)
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("openai embedding: %w", err)
}

var _ BatchEmbedder = (*OpenAIEmbedder)(nil)

package openailm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Embedder turns text into embedding vectors via the OpenAI embeddings API.
// The document index and its queries must use the same model, so one
// Embedder instance is shared by everything that touches the vector store.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an embeddings client. model falls back to
// text-embedding-3-small when empty.
func NewEmbedder(apiKey, model, baseURL string) *Embedder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	client := openai.NewClient(opts...)
	return &Embedder{
		client: &client,
		model:  model,
	}
}

// Embed returns the embedding vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	return resp.Data[0].Embedding, nil
}

package embedding

import (
	"context"
	"fmt"
)

// Task types understood by providers that distinguish queries from documents
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

type EmbeddingResponseEmbedding struct {
	Values []float32 `json:"values"`
}

// EmbeddingResponse is the provider-neutral result; its shape follows Gemini's embedContent reply
type EmbeddingResponse struct {
	Embedding EmbeddingResponseEmbedding `json:"embedding"`
}

// EmbeddingProvider defines the interface for generating text embeddings
type EmbeddingProvider interface {
	Generate(ctx context.Context, text string, taskType string) (*EmbeddingResponse, error)
}

// QueryEmbedder adapts a provider to the single-vector query form used by retrieval
type QueryEmbedder struct {
	Provider EmbeddingProvider
}

func (q QueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := q.Provider.Generate(ctx, text, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding provider returned an empty vector")
	}
	return resp.Embedding.Values, nil
}

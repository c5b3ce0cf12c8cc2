package search

import (
	"context"

	"research-chat-be/pkg/store"
)

// Embedder turns a query into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the passage store: similarity search plus lookup by passage id
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]store.Passage, error)
	FetchByIDs(ctx context.Context, ids []string) (map[string]store.Passage, error)
}

// Reranker re-scores candidates with a secondary model and keeps the best topN
type Reranker interface {
	Name() string
	Rerank(ctx context.Context, query string, passages []store.Passage, topN int) ([]store.Passage, error)
}

package contract

import (
	"context"

	"research-chat-be/internal/repository/specification"
	"research-chat-be/pkg/store"
)

// PassageRepository is the pgvector-backed passage index
type PassageRepository interface {
	Upsert(ctx context.Context, passage store.Passage, vector []float32, chunkIndex int) error
	Search(ctx context.Context, vector []float32, k int) ([]store.Passage, error)
	FetchByIDs(ctx context.Context, ids []string) (map[string]store.Passage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}

package contract

import (
	"context"

	"research-chat-be/pkg/store"
)

type DocumentRepository interface {
	Upsert(ctx context.Context, doc store.Document) error
	// Documents returns the catalog entries for ids; unknown ids are absent from the map
	Documents(ctx context.Context, ids []string) (map[string]store.Document, error)
}

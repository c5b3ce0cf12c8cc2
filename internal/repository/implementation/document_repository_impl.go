package implementation

import (
	"context"

	"research-chat-be/internal/mapper"
	"research-chat-be/internal/model"
	"research-chat-be/internal/repository/contract"
	"research-chat-be/internal/repository/specification"
	"research-chat-be/pkg/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DocumentRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DocumentMapper
}

func NewDocumentRepository(db *gorm.DB) contract.DocumentRepository {
	return &DocumentRepositoryImpl{
		db:     db,
		mapper: mapper.NewDocumentMapper(),
	}
}

func (r *DocumentRepositoryImpl) Upsert(ctx context.Context, doc store.Document) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(r.mapper.ToModel(doc)).Error
}

func (r *DocumentRepositoryImpl) Documents(ctx context.Context, ids []string) (map[string]store.Document, error) {
	out := make(map[string]store.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var models []*model.Document
	query := specification.ByStringIDs{IDs: ids}.Apply(r.db.WithContext(ctx))
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.Id] = r.mapper.ToStore(m)
	}
	return out, nil
}

package implementation

import (
	"context"

	"research-chat-be/internal/mapper"
	"research-chat-be/internal/model"
	"research-chat-be/internal/repository/contract"
	"research-chat-be/internal/repository/specification"
	"research-chat-be/pkg/store"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PassageRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.PassageMapper
}

func NewPassageRepository(db *gorm.DB) contract.PassageRepository {
	return &PassageRepositoryImpl{
		db:     db,
		mapper: mapper.NewPassageMapper(),
	}
}

func (r *PassageRepositoryImpl) Upsert(ctx context.Context, passage store.Passage, vector []float32, chunkIndex int) error {
	m := r.mapper.ToModel(passage, vector, chunkIndex)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

// Search returns the k nearest passages by cosine similarity
func (r *PassageRepositoryImpl) Search(ctx context.Context, vector []float32, k int) ([]store.Passage, error) {
	if k <= 0 {
		k = 5
	}

	// pgvector's <=> is cosine distance, so similarity is 1 - distance
	type result struct {
		model.Passage
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)
	err := r.db.WithContext(ctx).
		Table("passages").
		Select("passages.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Order(gorm.Expr("embedding_value <=> ?", queryVector)).
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	passages := make([]store.Passage, len(results))
	for i := range results {
		passages[i] = r.mapper.ToStore(&results[i].Passage, results[i].Similarity)
	}
	return passages, nil
}

func (r *PassageRepositoryImpl) FetchByIDs(ctx context.Context, ids []string) (map[string]store.Passage, error) {
	out := make(map[string]store.Passage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var models []*model.Passage
	query := specification.ByStringIDs{IDs: ids}.Apply(r.db.WithContext(ctx))
	if err := query.Omit("embedding_value").Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.Id] = r.mapper.ToStore(m, 0)
	}
	return out, nil
}

func (r *PassageRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := specification.ApplyAll(r.db.WithContext(ctx), specs...)
	err := query.Model(&model.Passage{}).Count(&count).Error
	return count, err
}

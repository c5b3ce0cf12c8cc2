package mapper

import (
	"research-chat-be/internal/model"
	"research-chat-be/pkg/store"

	"github.com/pgvector/pgvector-go"
)

type PassageMapper struct{}

func NewPassageMapper() *PassageMapper {
	return &PassageMapper{}
}

func (m *PassageMapper) ToStore(p *model.Passage, score float64) store.Passage {
	return store.Passage{
		PassageID:  p.Id,
		DocumentID: p.DocumentId,
		Section:    p.Section,
		Text:       p.Text,
		Score:      float32(score),
	}
}

func (m *PassageMapper) ToModel(p store.Passage, vector []float32, chunkIndex int) *model.Passage {
	return &model.Passage{
		Id:             p.PassageID,
		DocumentId:     p.DocumentID,
		Section:        p.Section,
		Text:           p.Text,
		EmbeddingValue: pgvector.NewVector(vector),
		ChunkIndex:     chunkIndex,
	}
}

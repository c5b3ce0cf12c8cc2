package mapper

import (
	"research-chat-be/internal/model"
	"research-chat-be/pkg/store"

	"gorm.io/datatypes"
)

type DocumentMapper struct{}

func NewDocumentMapper() *DocumentMapper {
	return &DocumentMapper{}
}

func (m *DocumentMapper) ToStore(d *model.Document) store.Document {
	return store.Document{
		ID:       d.Id,
		Title:    d.Title,
		Journal:  d.Journal,
		Year:     d.Year,
		Authors:  []string(d.Authors),
		URL:      d.Url,
		Metadata: map[string]interface{}(d.Metadata),
	}
}

func (m *DocumentMapper) ToModel(d store.Document) *model.Document {
	return &model.Document{
		Id:       d.ID,
		Title:    d.Title,
		Journal:  d.Journal,
		Year:     d.Year,
		Authors:  datatypes.JSONSlice[string](d.Authors),
		Url:      d.URL,
		Metadata: datatypes.JSONMap(d.Metadata),
	}
}

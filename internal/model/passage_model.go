package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

type Passage struct {
	Id             string          `gorm:"type:varchar(64);primaryKey"`
	DocumentId     string          `gorm:"type:varchar(64);not null;index"`
	Section        string          `gorm:"type:text"`
	Text           string          `gorm:"type:text;not null"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"` // nomic-embed-text and text-embedding-004 both use 768 dimensions
	ChunkIndex     int             `gorm:"default:0"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (Passage) TableName() string {
	return "passages"
}

package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is a bibliographic record; ID is the canonical id the model cites ("D12")
type Document struct {
	Id        string                      `gorm:"type:varchar(64);primaryKey"`
	Title     string                      `gorm:"type:text;not null"`
	Journal   string                      `gorm:"type:text"`
	Year      int                         `gorm:"default:0"`
	Authors   datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Url       string                      `gorm:"type:text"`
	Metadata  datatypes.JSONMap           `gorm:"type:jsonb"`
	CreatedAt time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}

package specification

import "gorm.io/gorm"

// ByStringIDs filters by a list of primary keys
type ByStringIDs struct {
	IDs []string
}

func (s ByStringIDs) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id IN ?", s.IDs)
}

// ByDocument filters passages of one document
type ByDocument struct {
	DocumentID string
}

func (s ByDocument) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("document_id = ?", s.DocumentID)
}

package store

// Document is the bibliographic record a passage belongs to
type Document struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Journal  string                 `json:"journal,omitempty"`
	Year     int                    `json:"year,omitempty"`
	Authors  []string               `json:"authors,omitempty"`
	URL      string                 `json:"url,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Passage is a retrievable chunk of a document. Read-only once returned by an index.
type Passage struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"research-chat-be/pkg/store"
)

func TestDocumentMapper_RoundTrip(t *testing.T) {
	m := NewDocumentMapper()
	doc := store.Document{
		ID:       "D12",
		Title:    "Metformin in type 2 diabetes",
		Journal:  "Lancet",
		Year:     2019,
		Authors:  []string{"Smith J", "Lee K"},
		URL:      "https://doi.org/10.1000/xyz",
		Metadata: map[string]interface{}{"pmid": "123"},
	}
	assert.Equal(t, doc, m.ToStore(m.ToModel(doc)))
}

func TestPassageMapper(t *testing.T) {
	m := NewPassageMapper()
	p := store.Passage{PassageID: "D12-p3", DocumentID: "D12", Section: "Results", Text: "HbA1c fell."}

	row := m.ToModel(p, []float32{0.1, 0.2}, 3)
	assert.Equal(t, 3, row.ChunkIndex)
	assert.Equal(t, []float32{0.1, 0.2}, row.EmbeddingValue.Slice())

	got := m.ToStore(row, 0.75)
	assert.Equal(t, "D12-p3", got.PassageID)
	assert.InDelta(t, 0.75, got.Score, 1e-6)
}

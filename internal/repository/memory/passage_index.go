package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"research-chat-be/pkg/embedding"
	"research-chat-be/pkg/store"
	"research-chat-be/pkg/utils"
)

// PassageIndex is a brute-force cosine index held in memory. Vectors are stored unit length.
type PassageIndex struct {
	mu        sync.RWMutex
	passages  []store.Passage
	vectors   [][]float32
	byID      map[string]int
	documents map[string]store.Document
}

func NewPassageIndex() *PassageIndex {
	return &PassageIndex{
		byID:      make(map[string]int),
		documents: make(map[string]store.Document),
	}
}

const (
	bodyChunkSize    = 1200
	bodyChunkOverlap = 200
)

// Corpus is the on-disk seed format
type Corpus struct {
	Documents []CorpusDocument `json:"documents"`
	Passages  []CorpusPassage  `json:"passages"`
}

type CorpusDocument struct {
	store.Document
	// Body is split into passages when no passage references the document
	Body string `json:"body,omitempty"`
}

type CorpusPassage struct {
	store.Passage
	Embedding []float32 `json:"embedding,omitempty"`
}

// ReadCorpus decodes a JSON corpus and splits document bodies into passages
func ReadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var corpus Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	corpus.splitBodies(bodyChunkSize, bodyChunkOverlap)
	return &corpus, nil
}

func (c *Corpus) splitBodies(chunkSize, overlap int) {
	hasPassages := make(map[string]bool)
	for _, p := range c.Passages {
		hasPassages[p.DocumentID] = true
	}
	for _, d := range c.Documents {
		if d.Body == "" || hasPassages[d.ID] {
			continue
		}
		for n, chunk := range utils.SplitText(d.Body, chunkSize, overlap) {
			c.Passages = append(c.Passages, CorpusPassage{Passage: store.Passage{
				PassageID:  fmt.Sprintf("%s-p%d", d.ID, n+1),
				DocumentID: d.ID,
				Text:       chunk,
			}})
		}
	}
}

// LoadCorpus reads a JSON corpus; passages without an embedding are embedded with provider
func LoadCorpus(ctx context.Context, path string, provider embedding.EmbeddingProvider) (*PassageIndex, error) {
	corpus, err := ReadCorpus(path)
	if err != nil {
		return nil, err
	}

	idx := NewPassageIndex()
	for _, d := range corpus.Documents {
		idx.AddDocument(d.Document)
	}
	for _, cp := range corpus.Passages {
		vec := cp.Embedding
		if len(vec) == 0 {
			if provider == nil {
				return nil, fmt.Errorf("passage %s has no embedding and no provider is configured", cp.PassageID)
			}
			resp, err := provider.Generate(ctx, cp.Text, embedding.TaskRetrievalDocument)
			if err != nil {
				return nil, fmt.Errorf("embed passage %s: %w", cp.PassageID, err)
			}
			vec = resp.Embedding.Values
		}
		if err := idx.Add(cp.Passage, vec); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (i *PassageIndex) AddDocument(d store.Document) {
	i.mu.Lock()
	i.documents[d.ID] = d
	i.mu.Unlock()
}

// Add inserts or replaces a passage
func (i *PassageIndex) Add(p store.Passage, vector []float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.vectors) > 0 && len(vector) != len(i.vectors[0]) {
		return fmt.Errorf("passage %s: vector dimension %d, index uses %d", p.PassageID, len(vector), len(i.vectors[0]))
	}
	vector = embedding.Normalize(vector)
	p.Score = 0
	if pos, ok := i.byID[p.PassageID]; ok {
		i.passages[pos] = p
		i.vectors[pos] = vector
		return nil
	}
	i.byID[p.PassageID] = len(i.passages)
	i.passages = append(i.passages, p)
	i.vectors = append(i.vectors, vector)
	return nil
}

func (i *PassageIndex) Search(_ context.Context, vector []float32, k int) ([]store.Passage, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.vectors) > 0 && len(vector) != len(i.vectors[0]) {
		return nil, fmt.Errorf("query dimension %d, index uses %d", len(vector), len(i.vectors[0]))
	}
	query := embedding.Normalize(vector)

	scored := make([]store.Passage, len(i.passages))
	for pos, p := range i.passages {
		p.Score = dot(i.vectors[pos], query)
		scored[pos] = p
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (i *PassageIndex) FetchByIDs(_ context.Context, ids []string) (map[string]store.Passage, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[string]store.Passage, len(ids))
	for _, id := range ids {
		if pos, ok := i.byID[id]; ok {
			out[id] = i.passages[pos]
		}
	}
	return out, nil
}

// Documents returns the catalog of known documents
func (i *PassageIndex) Documents(_ context.Context, ids []string) (map[string]store.Document, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make(map[string]store.Document, len(ids))
	for _, id := range ids {
		if d, ok := i.documents[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (i *PassageIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.passages)
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for j := 0; j < n; j++ {
		sum += a[j] * b[j]
	}
	return sum
}

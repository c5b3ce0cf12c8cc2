package jina

import (
	"context"
	"fmt"

	"research-chat-be/pkg/store"
)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Reranker scores passages with Jina's cross-encoder rerank endpoint
type Reranker struct {
	provider *JinaProvider
	model    string
}

func NewReranker(apiKey, baseURL string) *Reranker {
	return &Reranker{
		provider: NewJinaProvider(apiKey, baseURL),
		model:    "jina-reranker-v2-base-multilingual",
	}
}

func (r *Reranker) Name() string {
	return "jina"
}

// Rerank returns at most topN passages ordered by relevance, with Score replaced by the rerank score
func (r *Reranker) Rerank(ctx context.Context, query string, passages []store.Passage, topN int) ([]store.Passage, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	docs := make([]string, len(passages))
	for i, p := range passages {
		docs[i] = p.Text
	}

	var resp rerankResponse
	err := r.provider.post(ctx, "/rerank", rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("jina rerank returned error: %s", resp.Error.Message)
	}

	out := make([]store.Passage, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(passages) {
			return nil, fmt.Errorf("jina rerank returned out of range index %d", res.Index)
		}
		p := passages[res.Index]
		p.Score = float32(res.RelevanceScore)
		out = append(out, p)
		if len(out) == topN {
			break
		}
	}
	return out, nil
}

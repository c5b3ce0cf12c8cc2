package search

import (
	"context"
	"fmt"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/rag/chaterr"
	"research-chat-be/pkg/store"
)

const module = "Retrieval"

// Config encapsulates retrieval parameters
type Config struct {
	TopK            int  // similarity candidates before reranking
	TopN            int  // passages handed to the prompt
	MaxCarried      int  // cap on previously cited passages in hybrid mode
	Hybrid          bool // later turns add previously cited passages to a fresh search
	RerankByDefault bool
}

// DefaultConfig returns default retrieval configuration
func DefaultConfig() Config {
	return Config{
		TopK:       20,
		TopN:       5,
		MaxCarried: 15,
	}
}

// Request describes one retrieval
type Request struct {
	Query     string
	FirstTurn bool
	// CarriedPassageIDs are passages cited earlier in the conversation, most recent first
	CarriedPassageIDs []string
	// UseReranker overrides Config.RerankByDefault when set
	UseReranker *bool
}

// Orchestrator handles vector search, reranking and passage carry-over
type Orchestrator struct {
	embedder Embedder
	index    Index
	reranker Reranker
	config   Config
	logger   logger.ILogger
}

// NewOrchestrator creates a new search orchestrator. reranker may be nil.
func NewOrchestrator(embedder Embedder, index Index, reranker Reranker, config Config, log logger.ILogger) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	if config.TopN <= 0 {
		config.TopN = DefaultConfig().TopN
	}
	if config.MaxCarried <= 0 {
		config.MaxCarried = DefaultConfig().MaxCarried
	}
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		config:   config,
		logger:   log,
	}
}

// Hybrid reports whether later turns carry previously cited passages
func (o *Orchestrator) Hybrid() bool {
	return o.config.Hybrid
}

// Retrieve returns the passages for this turn. Embedding or index failures wrap ErrRetrievalFailure.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) ([]store.Passage, error) {
	fresh, err := o.fresh(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.FirstTurn || !o.config.Hybrid || len(req.CarriedPassageIDs) == 0 {
		return fresh, nil
	}

	carried, err := o.carried(ctx, req.CarriedPassageIDs)
	if err != nil {
		return nil, err
	}

	merged := mergeUnique(fresh, carried)
	o.logger.Debug(module, "Hybrid retrieval merged", map[string]interface{}{
		"fresh":   len(fresh),
		"carried": len(carried),
		"total":   len(merged),
	})
	return merged, nil
}

// fresh is the first-turn path: top-K similarity, then rerank or truncate to top-N
func (o *Orchestrator) fresh(ctx context.Context, req Request) ([]store.Passage, error) {
	vector, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", chaterr.ErrRetrievalFailure, err)
	}

	candidates, err := o.index.Search(ctx, vector, o.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: index search: %v", chaterr.ErrRetrievalFailure, err)
	}
	candidates = dedupe(candidates)

	o.logger.Debug(module, "Similarity search finished", map[string]interface{}{
		"candidates": len(candidates),
		"top_k":      o.config.TopK,
	})

	if o.useReranker(req) && len(candidates) > 0 {
		reranked, err := o.reranker.Rerank(ctx, req.Query, candidates, o.config.TopN)
		if err == nil {
			return reranked, nil
		}
		o.logger.Warn(module, "Reranker failed, falling back to similarity order", map[string]interface{}{
			"reranker": o.reranker.Name(),
			"error":    err.Error(),
		})
	}

	if len(candidates) > o.config.TopN {
		candidates = candidates[:o.config.TopN]
	}
	return candidates, nil
}

func (o *Orchestrator) carried(ctx context.Context, ids []string) ([]store.Passage, error) {
	if len(ids) > o.config.MaxCarried {
		ids = ids[:o.config.MaxCarried]
	}
	found, err := o.index.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch cited passages: %v", chaterr.ErrRetrievalFailure, err)
	}

	out := make([]store.Passage, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (o *Orchestrator) useReranker(req Request) bool {
	if o.reranker == nil {
		return false
	}
	if req.UseReranker != nil {
		return *req.UseReranker
	}
	return o.config.RerankByDefault
}

func dedupe(passages []store.Passage) []store.Passage {
	return mergeUnique(passages, nil)
}

// mergeUnique concatenates lists keeping the first occurrence of each passage id
func mergeUnique(lists ...[]store.Passage) []store.Passage {
	seen := make(map[string]bool)
	var out []store.Passage
	for _, list := range lists {
		for _, p := range list {
			if seen[p.PassageID] {
				continue
			}
			seen[p.PassageID] = true
			out = append(out, p)
		}
	}
	return out
}

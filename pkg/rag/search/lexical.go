package search

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"research-chat-be/pkg/store"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// LexicalReranker orders passages by token-set overlap with the query (Ochiai coefficient).
// It needs no network and serves as the default secondary scorer.
type LexicalReranker struct{}

func (LexicalReranker) Name() string {
	return "lexical"
}

func (LexicalReranker) Rerank(_ context.Context, query string, passages []store.Passage, topN int) ([]store.Passage, error) {
	qset := tokenSet(query)

	scored := make([]store.Passage, len(passages))
	copy(scored, passages)
	for i := range scored {
		scored[i].Score = float32(ochiai(qset, tokenSet(scored[i].Text)))
	}
	// stable keeps similarity order among ties
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A|·|B|)
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range b {
		if _, ok := a[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

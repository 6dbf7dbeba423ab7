// Package ranking merges ranked candidate lists from independent retrievers into one ordering.
package ranking

import (
	"sort"
)

// DefaultK is the default reciprocal-rank damping constant.
const DefaultK = 60.0

// FusionConfig configures reciprocal-rank fusion.
type FusionConfig struct {
	// K damps the influence of low ranks. Larger values flatten the curve.
	// K=0 is accepted (1/r_v + 1/r_k); negative values fall back to DefaultK.
	K float64 `koanf:"k"`
}

// DefaultFusionConfig returns the default fusion configuration.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{K: DefaultK}
}

// RankedItem is a candidate at a 1-based rank in one retriever's list.
// A rank <= 0 means the retriever did not return the candidate.
type RankedItem struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

// FusedResult is a candidate with its fused score and the contributing ranks.
type FusedResult struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	SemanticRank int     `json:"semantic_rank,omitempty"`
	KeywordRank  int     `json:"keyword_rank,omitempty"`
}

// FusedScore returns the reciprocal-rank fusion score for a semantic rank rv and keyword rank rk.
// A rank <= 0 contributes nothing.
func FusedScore(rv, rk int, k float64) float64 {
	if k < 0 {
		k = DefaultK
	}
	return reciprocal(rv, k) + reciprocal(rk, k)
}

func reciprocal(rank int, k float64) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / (k + float64(rank))
}

// Fuse merges the semantic and keyword lists into a single ranking over their union.
// Candidates absent from both lists never appear. Results are ordered by fused score
// descending; ties keep first-appearance order (semantic list first, then keyword list).
// A nil list is treated as empty, which degrades to single-retriever ranking.
func Fuse(semantic, keyword []RankedItem, cfg FusionConfig) []FusedResult {
	order := make([]string, 0, len(semantic)+len(keyword))
	byID := make(map[string]*FusedResult, len(semantic)+len(keyword))

	add := func(item RankedItem, isSemantic bool) {
		if item.ID == "" || item.Rank <= 0 {
			return
		}
		r, ok := byID[item.ID]
		if !ok {
			r = &FusedResult{ID: item.ID}
			byID[item.ID] = r
			order = append(order, item.ID)
		}
		// Duplicates within one list keep the best (lowest) rank.
		if isSemantic {
			if r.SemanticRank == 0 || item.Rank < r.SemanticRank {
				r.SemanticRank = item.Rank
			}
		} else {
			if r.KeywordRank == 0 || item.Rank < r.KeywordRank {
				r.KeywordRank = item.Rank
			}
		}
	}

	for _, item := range semantic {
		add(item, true)
	}
	for _, item := range keyword {
		add(item, false)
	}

	results := make([]FusedResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Score = FusedScore(r.SemanticRank, r.KeywordRank, cfg.K)
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// FromOrderedIDs converts an ordered list of IDs (best first) into 1-based ranked items.
func FromOrderedIDs(ids []string) []RankedItem {
	items := make([]RankedItem, 0, len(ids))
	for i, id := range ids {
		items = append(items, RankedItem{ID: id, Rank: i + 1})
	}
	return items
}

// TopN returns the first n fused results. n <= 0 returns all results.
func TopN(results []FusedResult, n int) []FusedResult {
	if n <= 0 || n >= len(results) {
		return results
	}
	return results[:n]
}

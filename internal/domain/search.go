package domain

// MatchPath records which retrieval pass produced a result
type MatchPath string

const (
	MatchPathKeyword  MatchPath = "keyword"
	MatchPathSemantic MatchPath = "semantic"
)

// SearchResult pairs a knowledge item with its transient relevance scores.
// RawScore is the engine's own ordering key; BoostedScore folds in the
// item's historical validation count and is the downstream sort key.
type SearchResult struct {
	Item         *KnowledgeItem
	MatchedVia   MatchPath
	RawScore     float32
	BoostedScore float32
}

// DefaultBoostFactor scales the per-validation score multiplier.
const DefaultBoostFactor = 0.05

// ApplyBoost computes BoostedScore from RawScore and the item's validation
// count. BoostedScore is never below RawScore; it equals RawScore exactly
// when the validation count is zero.
func (r *SearchResult) ApplyBoost(boostFactor float32) {
	if boostFactor < 0 {
		boostFactor = 0
	}
	count := 0
	if r.Item != nil {
		count = r.Item.ValidationCount
	}
	r.BoostedScore = r.RawScore * (1 + float32(count)*boostFactor)
	if r.BoostedScore < r.RawScore {
		r.BoostedScore = r.RawScore
	}
}

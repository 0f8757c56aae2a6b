package handlers

import (
	"net/http"

	"github.com/deskmate-ai/deskmate/internal/api"
	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/service"
)

// StatsProvider exposes the learner's aggregate counters.
type StatsProvider interface {
	Stats() service.LearnerStats
}

// CacheSizer reports how many responses the semantic cache holds.
type CacheSizer interface {
	Len() int
}

type StatsHandler struct {
	learner StatsProvider
	cache   CacheSizer
	corpus  *corpus.Corpus
}

func NewStatsHandler(learner StatsProvider, cache CacheSizer, c *corpus.Corpus) *StatsHandler {
	return &StatsHandler{learner: learner, cache: cache, corpus: c}
}

type SourceStats struct {
	Ready bool `json:"ready"`
	Items int  `json:"items"`
}

type KeywordSuggestionDTO struct {
	ItemID  string `json:"item_id"`
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

type StatsResponse struct {
	TotalFeedback      int                    `json:"total_feedback"`
	HelpfulCount       int                    `json:"helpful_count"`
	UnhelpfulCount     int                    `json:"unhelpful_count"`
	PendingReview      int                    `json:"pending_review"`
	AppliedCount       int                    `json:"applied_count"`
	DismissedCount     int                    `json:"dismissed_count"`
	CachedResponses    int                    `json:"cached_responses"`
	AppliedKeywords    int                    `json:"applied_keywords"`
	FailurePatterns    int                    `json:"failure_patterns"`
	AlertedPatterns    int                    `json:"alerted_patterns"`
	KeywordSuggestions []KeywordSuggestionDTO `json:"keyword_suggestions"`
	CacheSize          int                    `json:"cache_size"`
	Sources            map[string]SourceStats `json:"sources"`
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats := h.learner.Stats()

	suggestions := make([]KeywordSuggestionDTO, 0, len(stats.KeywordSuggestions))
	for _, s := range stats.KeywordSuggestions {
		suggestions = append(suggestions, KeywordSuggestionDTO{
			ItemID:  s.ItemID,
			Keyword: s.Keyword,
			Count:   s.Count,
		})
	}

	sources := make(map[string]SourceStats, len(domain.AllSourceTypes))
	for _, st := range domain.AllSourceTypes {
		items, _ := h.corpus.Items(st)
		sources[string(st)] = SourceStats{
			Ready: h.corpus.Ready(st),
			Items: len(items),
		}
	}

	api.Success(w, http.StatusOK, &StatsResponse{
		TotalFeedback:      stats.TotalFeedback,
		HelpfulCount:       stats.HelpfulCount,
		UnhelpfulCount:     stats.UnhelpfulCount,
		PendingReview:      stats.PendingReview,
		AppliedCount:       stats.AppliedCount,
		DismissedCount:     stats.DismissedCount,
		CachedResponses:    stats.CachedResponses,
		AppliedKeywords:    stats.AppliedKeywords,
		FailurePatterns:    stats.FailurePatterns,
		AlertedPatterns:    stats.AlertedPatterns,
		KeywordSuggestions: suggestions,
		CacheSize:          h.cache.Len(),
		Sources:            sources,
	})
}

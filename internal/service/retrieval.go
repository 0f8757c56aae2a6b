package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/openai"
)

const keywordMatchScore = 1.0

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SourcePolicy tunes the semantic similarity floor and result cap per source.
type SourcePolicy struct {
	SemanticFloor float32
	MaxItems      int
}

// DefaultSourcePolicies returns the per-source retrieval policy table.
// Curated articles carry the strictest floor; reference rows the loosest.
func DefaultSourcePolicies() map[domain.SourceType]SourcePolicy {
	return map[domain.SourceType]SourcePolicy{
		domain.SourceTypeReferenceRow:   {SemanticFloor: 0.2, MaxItems: 10},
		domain.SourceTypeTicketSolution: {SemanticFloor: 0.2, MaxItems: 5},
		domain.SourceTypeWikiPage:       {SemanticFloor: 0.2, MaxItems: 4},
		domain.SourceTypeArticle:        {SemanticFloor: 0.5, MaxItems: 3},
	}
}

// RetrievalEngine performs hybrid keyword + embedding search over the
// corpus snapshots. Results are deterministic for a fixed corpus and
// embedding provider.
type RetrievalEngine struct {
	corpus      *corpus.Corpus
	embedding   EmbeddingClient
	policies    map[domain.SourceType]SourcePolicy
	stopWords   map[string]struct{}
	boostFactor float32
}

// NewRetrievalEngine creates a RetrievalEngine with the default policy table.
func NewRetrievalEngine(c *corpus.Corpus, embedding EmbeddingClient) *RetrievalEngine {
	return NewRetrievalEngineWithPolicies(c, embedding, DefaultSourcePolicies(), domain.DefaultBoostFactor)
}

// NewRetrievalEngineWithPolicies creates a RetrievalEngine with an explicit
// policy table and boost factor.
func NewRetrievalEngineWithPolicies(c *corpus.Corpus, embedding EmbeddingClient, policies map[domain.SourceType]SourcePolicy, boostFactor float32) *RetrievalEngine {
	return &RetrievalEngine{
		corpus:      c,
		embedding:   embedding,
		policies:    policies,
		stopWords:   defaultStopWords,
		boostFactor: boostFactor,
	}
}

// Search runs the hybrid search across the given sources and returns
// per-source result lists ordered by raw score. The query embedding is
// computed once and shared; if the embedding provider is unavailable the
// search degrades to keyword-only and does not fail.
func (e *RetrievalEngine) Search(ctx context.Context, query string, sources []domain.SourceType, topResults int) (map[domain.SourceType][]*domain.SearchResult, error) {
	return e.SearchWithEmbedding(ctx, query, e.QueryEmbedding(ctx, query), sources, topResults)
}

// SearchWithEmbedding is Search with a caller-provided query embedding, so
// a pipeline that already computed the vector (for its cache check) does
// not pay for a second provider call. A nil embedding means keyword-only.
func (e *RetrievalEngine) SearchWithEmbedding(ctx context.Context, query string, queryEmbedding []float32, sources []domain.SourceType, topResults int) (map[domain.SourceType][]*domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	tokens := tokenizeQuery(query, e.stopWords)

	results := make(map[domain.SourceType][]*domain.SearchResult, len(sources))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, sourceType := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			list, err := e.searchSource(sourceType, tokens, queryEmbedding, topResults)
			if err != nil {
				// A source that is still loading or failed its load is
				// skipped, not fatal for the query.
				log.Printf("retrieval: source %s skipped: %v", sourceType, err)
				return nil
			}
			mu.Lock()
			results[sourceType] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// QueryEmbedding computes the query vector, degrading to nil (keyword-only
// search) when the provider is unavailable.
func (e *RetrievalEngine) QueryEmbedding(ctx context.Context, query string) []float32 {
	if e.embedding == nil {
		return nil
	}
	embedding, err := e.embedding.GenerateEmbedding(ctx, query)
	if err != nil {
		if openai.IsTransient(err) {
			log.Printf("retrieval: embedding unavailable, keyword-only search: %v", err)
		} else {
			log.Printf("retrieval: embedding disabled for query: %v", err)
		}
		return nil
	}
	return embedding
}

func (e *RetrievalEngine) searchSource(sourceType domain.SourceType, tokens []string, queryEmbedding []float32, topResults int) ([]*domain.SearchResult, error) {
	items, err := e.corpus.Items(sourceType)
	if err != nil {
		return nil, err
	}

	policy, ok := e.policies[sourceType]
	if !ok {
		policy = SourcePolicy{SemanticFloor: 0.5, MaxItems: 3}
	}

	matched := make(map[string]*domain.SearchResult, len(items))
	order := make([]string, 0, len(items))

	// Keyword pass: any remaining token as substring of the searchable text.
	for _, item := range items {
		if !matchesKeywords(item.SearchableText, tokens) {
			continue
		}
		result := &domain.SearchResult{
			Item:       item,
			MatchedVia: domain.MatchPathKeyword,
			RawScore:   keywordMatchScore,
		}
		if existing, dup := matched[item.ID]; !dup || result.RawScore > existing.RawScore {
			if !dup {
				order = append(order, item.ID)
			}
			matched[item.ID] = result
		}
	}

	// Semantic pass over items the keyword pass did not claim.
	if len(queryEmbedding) > 0 {
		for _, item := range items {
			if _, dup := matched[item.ID]; dup {
				continue
			}
			if !item.HasEmbedding() {
				continue
			}
			score := domain.CosineSimilarity(queryEmbedding, item.Embedding)
			if score < policy.SemanticFloor {
				continue
			}
			matched[item.ID] = &domain.SearchResult{
				Item:       item,
				MatchedVia: domain.MatchPathSemantic,
				RawScore:   score,
			}
			order = append(order, item.ID)
		}
	}

	results := make([]*domain.SearchResult, 0, len(matched))
	for _, id := range order {
		results = append(results, matched[id])
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RawScore > results[j].RawScore
	})

	limit := policy.MaxItems
	if topResults > 0 && topResults < limit {
		limit = topResults
	}
	if len(results) > limit {
		results = results[:limit]
	}

	// Boosted scores are the downstream sort key; the engine's own ordering
	// stays by raw score so callers can ignore boosting.
	for _, r := range results {
		r.ApplyBoost(e.boostFactor)
	}

	return results, nil
}

func matchesKeywords(searchableText string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(searchableText, token) {
			return true
		}
	}
	return false
}

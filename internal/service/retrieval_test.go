package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
)

// fakeStore is an in-memory corpus.Store for service tests.
type fakeStore struct {
	items map[domain.SourceType][]*domain.KnowledgeItem
}

func (s *fakeStore) Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	return s.items[sourceType], nil
}

func (s *fakeStore) Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	s.items[sourceType] = items
	return nil
}

// fakeEmbedder returns canned vectors keyed by substring of the input text.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for key, vector := range f.vectors {
		if strings.Contains(strings.ToLower(text), key) {
			return vector, nil
		}
	}
	return f.fallback, nil
}

func buildCorpus(t *testing.T, items map[domain.SourceType][]*domain.KnowledgeItem) *corpus.Corpus {
	t.Helper()
	c := corpus.New(&fakeStore{items: items})
	c.LoadAll(context.Background())
	return c
}

func knowledgeItem(id string, sourceType domain.SourceType, title, body string, embedding []float32) *domain.KnowledgeItem {
	item := domain.NewKnowledgeItem(id, sourceType, title, body, nil, nil, time.Now().UTC())
	item.Embedding = embedding
	return item
}

func TestSearch_KeywordMatch(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			knowledgeItem("w1", domain.SourceTypeWikiPage, "VPN Setup Guide", "Install and configure the VPN client", nil),
			knowledgeItem("w2", domain.SourceTypeWikiPage, "Printer Setup", "Add a network printer", nil),
		},
	})
	engine := NewRetrievalEngine(c, nil)

	results, err := engine.Search(context.Background(), "VPN not connecting", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err)

	wiki := results[domain.SourceTypeWikiPage]
	require.Len(t, wiki, 1)
	assert.Equal(t, "w1", wiki[0].Item.ID)
	assert.Equal(t, domain.MatchPathKeyword, wiki[0].MatchedVia)
	assert.Equal(t, float32(1.0), wiki[0].RawScore)

	// Every keyword result contains at least one non-stop-word query token.
	for _, result := range wiki {
		found := false
		for _, token := range tokenizeQuery("VPN not connecting", nil) {
			if strings.Contains(result.Item.SearchableText, token) {
				found = true
				break
			}
		}
		assert.True(t, found)
	}
}

func TestSearch_StopWordsAndShortTokensIgnored(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			// Contains only stop words and short tokens from the query.
			knowledgeItem("w1", domain.SourceTypeWikiPage, "The a is", "not the and", nil),
		},
	})
	engine := NewRetrievalEngine(c, nil)

	results, err := engine.Search(context.Background(), "how the and a", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err)
	assert.Empty(t, results[domain.SourceTypeWikiPage])
}

func TestSearch_SemanticFloorPerSource(t *testing.T) {
	queryVec := []float32{1, 0}
	articles := []*domain.KnowledgeItem{
		knowledgeItem("a1", domain.SourceTypeArticle, "Unrelated topic one", "body", []float32{0.45, 0.893}), // sim ~0.45
	}
	wikis := []*domain.KnowledgeItem{
		knowledgeItem("w1", domain.SourceTypeWikiPage, "Unrelated topic two", "body", []float32{0.45, 0.893}),
	}
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeArticle:  articles,
		domain.SourceTypeWikiPage: wikis,
	})
	engine := NewRetrievalEngine(c, &fakeEmbedder{fallback: queryVec})

	results, err := engine.Search(context.Background(), "zzz unmatchable query", domain.AllSourceTypes, 5)
	require.NoError(t, err)

	// Similarity ~0.45 clears the wiki floor (0.2) but not the article floor (0.5).
	assert.Empty(t, results[domain.SourceTypeArticle])
	require.Len(t, results[domain.SourceTypeWikiPage], 1)
	assert.Equal(t, domain.MatchPathSemantic, results[domain.SourceTypeWikiPage][0].MatchedVia)
}

func TestSearch_TicketRankedAboveWiki(t *testing.T) {
	// Scenario: "VPN not connecting" with a semantically close ticket
	// solution and a weaker wiki page; both clear their floors.
	queryVec := []float32{1, 0}
	ticketVec := []float32{0.7, 0.714} // sim ~0.7
	wikiVec := []float32{0.55, 0.835}  // sim ~0.55

	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeTicketSolution: {
			knowledgeItem("t1", domain.SourceTypeTicketSolution, "Remote access broken", "Reinstall the remote access software", ticketVec),
		},
		domain.SourceTypeWikiPage: {
			knowledgeItem("w1", domain.SourceTypeWikiPage, "Troubleshooting basics", "General diagnosis steps", wikiVec),
		},
	})
	engine := NewRetrievalEngine(c, &fakeEmbedder{fallback: queryVec})

	results, err := engine.Search(context.Background(), "VPN not connecting", domain.AllSourceTypes, 5)
	require.NoError(t, err)

	tickets := results[domain.SourceTypeTicketSolution]
	wikis := results[domain.SourceTypeWikiPage]
	require.Len(t, tickets, 1)
	require.Len(t, wikis, 1)
	assert.Greater(t, tickets[0].RawScore, wikis[0].RawScore)
}

func TestSearch_KeywordWinsOverSemanticForSameItem(t *testing.T) {
	// An item matched by keyword is excluded from the semantic pass, so a
	// single id never appears twice and keeps its higher score.
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			knowledgeItem("w1", domain.SourceTypeWikiPage, "VPN Guide", "vpn help", []float32{1, 0}),
		},
	})
	engine := NewRetrievalEngine(c, &fakeEmbedder{fallback: []float32{1, 0}})

	results, err := engine.Search(context.Background(), "vpn", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err)

	wiki := results[domain.SourceTypeWikiPage]
	require.Len(t, wiki, 1)
	assert.Equal(t, domain.MatchPathKeyword, wiki[0].MatchedVia)
	assert.Equal(t, float32(1.0), wiki[0].RawScore)
}

func TestSearch_ResultCapPerSource(t *testing.T) {
	items := make([]*domain.KnowledgeItem, 0, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		items = append(items, knowledgeItem("art-"+id, domain.SourceTypeArticle, "VPN article "+id, "vpn content", nil))
	}
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeArticle: items,
	})
	engine := NewRetrievalEngine(c, nil)

	results, err := engine.Search(context.Background(), "vpn", []domain.SourceType{domain.SourceTypeArticle}, 50)
	require.NoError(t, err)
	assert.Len(t, results[domain.SourceTypeArticle], 3, "article source contributes at most 3 items")

	results, err = engine.Search(context.Background(), "vpn", []domain.SourceType{domain.SourceTypeArticle}, 2)
	require.NoError(t, err)
	assert.Len(t, results[domain.SourceTypeArticle], 2, "caller limit below the cap wins")
}

func TestSearch_DegradesToKeywordOnEmbeddingFailure(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			knowledgeItem("w1", domain.SourceTypeWikiPage, "VPN Guide", "vpn help", []float32{1, 0}),
			knowledgeItem("w2", domain.SourceTypeWikiPage, "Other page", "other content", []float32{1, 0}),
		},
	})
	engine := NewRetrievalEngine(c, &fakeEmbedder{err: context.DeadlineExceeded})

	results, err := engine.Search(context.Background(), "vpn", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err, "embedding failure must not fail the query")

	wiki := results[domain.SourceTypeWikiPage]
	require.Len(t, wiki, 1)
	assert.Equal(t, domain.MatchPathKeyword, wiki[0].MatchedVia)
}

func TestSearch_SkipsNotReadySource(t *testing.T) {
	store := &fakeStore{items: map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {knowledgeItem("w1", domain.SourceTypeWikiPage, "VPN Guide", "vpn", nil)},
	}}
	c := corpus.New(store)
	// Only the wiki source is loaded; articles stay not-ready.
	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeWikiPage))
	engine := NewRetrievalEngine(c, nil)

	results, err := engine.Search(context.Background(), "vpn", domain.AllSourceTypes, 5)
	require.NoError(t, err)
	require.Len(t, results[domain.SourceTypeWikiPage], 1)
	_, ok := results[domain.SourceTypeArticle]
	assert.False(t, ok)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{})
	engine := NewRetrievalEngine(c, nil)

	_, err := engine.SearchWithEmbedding(context.Background(), "   ", nil, domain.AllSourceTypes, 5)
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestSearch_BoostedScoreMonotonic(t *testing.T) {
	item := knowledgeItem("w1", domain.SourceTypeWikiPage, "VPN Guide", "vpn", nil)
	item.ValidationCount = 3
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {item},
	})
	engine := NewRetrievalEngine(c, nil)

	results, err := engine.Search(context.Background(), "vpn", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err)

	wiki := results[domain.SourceTypeWikiPage]
	require.Len(t, wiki, 1)
	assert.InDelta(t, 1.15, wiki[0].BoostedScore, 1e-6)
	assert.GreaterOrEqual(t, wiki[0].BoostedScore, wiki[0].RawScore)
}

func TestSearch_SkipsItemsWithMismatchedEmbedding(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			knowledgeItem("w1", domain.SourceTypeWikiPage, "Unrelated alpha", "body", []float32{1, 0, 0}), // wrong dims
			knowledgeItem("w2", domain.SourceTypeWikiPage, "Unrelated beta", "body", []float32{1, 0}),
		},
	})
	engine := NewRetrievalEngine(c, &fakeEmbedder{fallback: []float32{1, 0}})

	results, err := engine.Search(context.Background(), "zzz query", []domain.SourceType{domain.SourceTypeWikiPage}, 5)
	require.NoError(t, err)

	wiki := results[domain.SourceTypeWikiPage]
	require.Len(t, wiki, 1, "the dimension-mismatched item is skipped, not fatal")
	assert.Equal(t, "w2", wiki[0].Item.ID)
}

func TestTokenizeQuery(t *testing.T) {
	tokens := tokenizeQuery("How do I fix the VPN-Client error?!", nil)
	assert.Equal(t, []string{"do", "fix", "vpn", "client"}, tokens)

	assert.Empty(t, tokenizeQuery("", nil))
	assert.Empty(t, tokenizeQuery("a b c", nil))

	// "was" is a connector in both English and German and stays a stop word.
	assert.Equal(t, []string{"drucker"}, tokenizeQuery("was ist der Drucker", nil))
	assert.Equal(t, []string{"printer", "doing"}, tokenizeQuery("the printer was doing this", nil))
}

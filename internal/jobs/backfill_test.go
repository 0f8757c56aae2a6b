package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
)

type memoryStore struct {
	items map[domain.SourceType][]*domain.KnowledgeItem
	saves map[domain.SourceType]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items: make(map[domain.SourceType][]*domain.KnowledgeItem),
		saves: make(map[domain.SourceType]int),
	}
}

func (s *memoryStore) Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	return s.items[sourceType], nil
}

func (s *memoryStore) Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	s.items[sourceType] = items
	s.saves[sourceType]++
	return nil
}

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func newItem(id string, sourceType domain.SourceType, embedding []float32) *domain.KnowledgeItem {
	item := domain.NewKnowledgeItem(id, sourceType, "Title "+id, "body", nil, nil, time.Now().UTC())
	item.Embedding = embedding
	return item
}

func TestBackfillWorker_FillsMissingEmbeddings(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{
		newItem("w1", domain.SourceTypeWikiPage, nil),
		newItem("w2", domain.SourceTypeWikiPage, []float32{1, 0}),
	}

	c := corpus.New(store)
	c.LoadAll(context.Background())

	embedder := &stubEmbedder{vector: []float32{0.5, 0.5}}
	worker := NewBackfillWorker(c, embedder)

	require.NoError(t, worker.ProcessJobs(context.Background()))

	assert.Equal(t, 1, embedder.calls, "only the item without a vector is embedded")

	item, err := c.GetByID(domain.SourceTypeWikiPage, "w1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, item.Embedding)

	// A second poll finds nothing to do.
	require.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Equal(t, 1, embedder.calls)
}

func TestBackfillWorker_ProviderFailureLeavesItems(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{
		newItem("w1", domain.SourceTypeWikiPage, nil),
	}

	c := corpus.New(store)
	c.LoadAll(context.Background())

	embedder := &stubEmbedder{err: errors.New("quota exceeded")}
	worker := NewBackfillWorker(c, embedder)

	require.Error(t, worker.ProcessJobs(context.Background()))

	item, err := c.GetByID(domain.SourceTypeWikiPage, "w1")
	require.NoError(t, err)
	assert.False(t, item.HasEmbedding(), "failed items stay pending for the next poll")
}

func TestBackfillWorker_BatchBudget(t *testing.T) {
	store := newMemoryStore()
	items := make([]*domain.KnowledgeItem, 0, maxBackfillBatch+5)
	for i := 0; i < maxBackfillBatch+5; i++ {
		items = append(items, newItem(itemID(i), domain.SourceTypeWikiPage, nil))
	}
	store.items[domain.SourceTypeWikiPage] = items

	c := corpus.New(store)
	c.LoadAll(context.Background())

	embedder := &stubEmbedder{vector: []float32{1}}
	worker := NewBackfillWorker(c, embedder)

	require.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Equal(t, maxBackfillBatch, embedder.calls, "one poll embeds at most one batch")

	require.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Equal(t, maxBackfillBatch+5, embedder.calls, "the next poll finishes the backlog")
}

func itemID(i int) string {
	return "item-" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}

func TestFlushWorker_FlushesDirtySourcesAndState(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{
		newItem("w1", domain.SourceTypeWikiPage, nil),
	}

	c := corpus.New(store)
	c.LoadAll(context.Background())

	sink := &stubSink{}
	cache := &stubCacheSnapshotter{entries: []*domain.CacheEntry{
		domain.NewCacheEntry("q", []float32{1}, "a", domain.SpecialistGeneral, time.Now().UTC()),
	}}
	feedback := &stubFeedbackSnapshotter{records: []*domain.FeedbackRecord{
		domain.NewFeedbackRecord("fb-1", "q", "a", true, nil, domain.SpecialistGeneral, time.Now().UTC()),
	}}

	worker := NewFlushWorker(c, cache, feedback, sink)

	// Nothing dirty yet; state snapshots are still written.
	require.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Zero(t, store.saves[domain.SourceTypeWikiPage])
	assert.Equal(t, 1, sink.cacheSaves)
	assert.Equal(t, 1, sink.feedbackSaves)

	// A corpus write marks the source dirty; the next flush persists it.
	_, err := c.AddKeyword(domain.SourceTypeWikiPage, "w1", "vpn")
	require.NoError(t, err)
	require.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Equal(t, 1, store.saves[domain.SourceTypeWikiPage])
}

type stubSink struct {
	cacheSaves    int
	feedbackSaves int
}

func (s *stubSink) SaveCacheEntries(ctx context.Context, entries []*domain.CacheEntry) error {
	s.cacheSaves++
	return nil
}

func (s *stubSink) SaveFeedback(ctx context.Context, records []*domain.FeedbackRecord) error {
	s.feedbackSaves++
	return nil
}

type stubCacheSnapshotter struct {
	entries []*domain.CacheEntry
}

func (s *stubCacheSnapshotter) Snapshot() []*domain.CacheEntry { return s.entries }

type stubFeedbackSnapshotter struct {
	records []*domain.FeedbackRecord
}

func (s *stubFeedbackSnapshotter) SnapshotRecords() []*domain.FeedbackRecord { return s.records }

package corpus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[domain.SourceType][]*domain.KnowledgeItem
	fail  map[domain.SourceType]error
	saves map[domain.SourceType]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items: make(map[domain.SourceType][]*domain.KnowledgeItem),
		fail:  make(map[domain.SourceType]error),
		saves: make(map[domain.SourceType]int),
	}
}

func (s *memoryStore) Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[sourceType]; err != nil {
		return nil, err
	}
	return s.items[sourceType], nil
}

func (s *memoryStore) Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[sourceType]; err != nil {
		return err
	}
	s.items[sourceType] = items
	s.saves[sourceType]++
	return nil
}

func testItem(id string, sourceType domain.SourceType) *domain.KnowledgeItem {
	return domain.NewKnowledgeItem(id, sourceType, "Title "+id, "Body "+id, nil, nil, time.Now().UTC())
}

func TestCorpusLoadAndReadiness(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{testItem("w1", domain.SourceTypeWikiPage)}
	c := New(store)

	assert.False(t, c.Ready(domain.SourceTypeWikiPage))
	_, err := c.Items(domain.SourceTypeWikiPage)
	assert.ErrorIs(t, err, domain.ErrSourceNotReady)

	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeWikiPage))
	assert.True(t, c.Ready(domain.SourceTypeWikiPage))

	items, err := c.Items(domain.SourceTypeWikiPage)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "w1", items[0].ID)
}

func TestCorpusLoadSkipsMalformedItems(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeArticle] = []*domain.KnowledgeItem{
		testItem("a1", domain.SourceTypeArticle),
		{ID: "", SourceType: domain.SourceTypeArticle},
		testItem("a2", domain.SourceTypeArticle),
	}
	c := New(store)

	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeArticle))

	items, err := c.Items(domain.SourceTypeArticle)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCorpusLoadAllContinuesPastFailures(t *testing.T) {
	store := newMemoryStore()
	store.fail[domain.SourceTypeReferenceRow] = errors.New("store down")
	store.items[domain.SourceTypeArticle] = []*domain.KnowledgeItem{testItem("a1", domain.SourceTypeArticle)}
	c := New(store)

	c.LoadAll(context.Background())

	assert.False(t, c.Ready(domain.SourceTypeReferenceRow))
	assert.True(t, c.Ready(domain.SourceTypeArticle))
}

func TestCorpusGetByID(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeTicketSolution] = []*domain.KnowledgeItem{testItem("IT-1001", domain.SourceTypeTicketSolution)}
	c := New(store)
	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeTicketSolution))

	item, err := c.GetByID(domain.SourceTypeTicketSolution, "IT-1001")
	require.NoError(t, err)
	assert.Equal(t, "IT-1001", item.ID)

	_, err = c.GetByID(domain.SourceTypeTicketSolution, "IT-9999")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCorpusAttachEmbeddingCopyOnWrite(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{testItem("w1", domain.SourceTypeWikiPage)}
	c := New(store)
	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeWikiPage))

	before, err := c.Items(domain.SourceTypeWikiPage)
	require.NoError(t, err)

	require.NoError(t, c.AttachEmbedding(domain.SourceTypeWikiPage, "w1", []float32{0.1, 0.2}))

	after, err := c.Items(domain.SourceTypeWikiPage)
	require.NoError(t, err)
	assert.True(t, after[0].HasEmbedding())
	assert.False(t, before[0].HasEmbedding(), "old snapshot must be untouched")
}

func TestCorpusAddKeywordIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeArticle] = []*domain.KnowledgeItem{testItem("a1", domain.SourceTypeArticle)}
	c := New(store)
	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeArticle))

	changed, err := c.AddKeyword(domain.SourceTypeArticle, "a1", "proxy")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.AddKeyword(domain.SourceTypeArticle, "a1", "proxy")
	require.NoError(t, err)
	assert.False(t, changed)

	items, err := c.Items(domain.SourceTypeArticle)
	require.NoError(t, err)
	assert.Equal(t, []string{"proxy"}, items[0].Keywords)
}

func TestCorpusFlushPersistsDirtySources(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeArticle] = []*domain.KnowledgeItem{testItem("a1", domain.SourceTypeArticle)}
	store.items[domain.SourceTypeWikiPage] = []*domain.KnowledgeItem{testItem("w1", domain.SourceTypeWikiPage)}
	c := New(store)
	c.LoadAll(context.Background())

	// Nothing dirty yet.
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, store.saves[domain.SourceTypeArticle])

	require.NoError(t, c.AttachEmbedding(domain.SourceTypeArticle, "a1", []float32{0.5}))
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, store.saves[domain.SourceTypeArticle])
	assert.Equal(t, 0, store.saves[domain.SourceTypeWikiPage], "clean sources are not rewritten")

	// Flush clears the dirty flag.
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, store.saves[domain.SourceTypeArticle])

	saved := store.items[domain.SourceTypeArticle]
	require.Len(t, saved, 1)
	assert.True(t, saved[0].HasEmbedding(), "persisted items keep their vectors")
}

func TestCorpusReplaceSwapsSnapshotAtomically(t *testing.T) {
	store := newMemoryStore()
	store.items[domain.SourceTypeReferenceRow] = []*domain.KnowledgeItem{testItem("r1", domain.SourceTypeReferenceRow)}
	c := New(store)
	require.NoError(t, c.LoadSource(context.Background(), domain.SourceTypeReferenceRow))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			items, err := c.Items(domain.SourceTypeReferenceRow)
			if err == nil {
				// A reader sees either the old or the new snapshot, never a mix.
				assert.NotEmpty(t, items)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		next := []*domain.KnowledgeItem{
			testItem("r1", domain.SourceTypeReferenceRow),
			testItem("r2", domain.SourceTypeReferenceRow),
		}
		require.NoError(t, c.Replace(domain.SourceTypeReferenceRow, next))
	}
	close(stop)
	wg.Wait()

	items, err := c.Items(domain.SourceTypeReferenceRow)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

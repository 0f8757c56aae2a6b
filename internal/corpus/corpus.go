// Package corpus holds the in-memory knowledge snapshots the retrieval
// pipeline searches. Each source type is loaded independently and replaced
// by atomic pointer swap, so in-flight searches never observe a partially
// updated collection.
package corpus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// Store is the bulk load/replace contract the corpus persists through.
// No partial-update API is assumed.
type Store interface {
	Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error)
	Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error
}

type sourceState struct {
	items atomic.Pointer[[]*domain.KnowledgeItem]
	ready atomic.Bool
	dirty atomic.Bool
}

// Corpus is the shared, concurrently searched knowledge collection.
// Reads take no lock; the only mutations are whole-snapshot swaps and
// copy-on-write item updates serialized by mu.
type Corpus struct {
	store   Store
	sources map[domain.SourceType]*sourceState

	// mu serializes writers (reload, embedding attach, keyword enrichment).
	mu sync.Mutex
}

// New creates a Corpus over the given store with every source not yet loaded.
func New(store Store) *Corpus {
	sources := make(map[domain.SourceType]*sourceState, len(domain.AllSourceTypes))
	for _, st := range domain.AllSourceTypes {
		sources[st] = &sourceState{}
	}
	return &Corpus{
		store:   store,
		sources: sources,
	}
}

// LoadSource loads one source from the store and swaps it in.
func (c *Corpus) LoadSource(ctx context.Context, sourceType domain.SourceType) error {
	state, ok := c.sources[sourceType]
	if !ok {
		return domain.ErrInvalidSourceType
	}

	items, err := c.store.Load(ctx, sourceType)
	if err != nil {
		return fmt.Errorf("failed to load source %s: %w", sourceType, err)
	}

	kept := make([]*domain.KnowledgeItem, 0, len(items))
	for _, item := range items {
		if err := domain.ValidateKnowledgeItem(item); err != nil {
			// A single malformed item must not take the source down.
			log.Printf("corpus: skipping malformed %s item: %v", sourceType, err)
			continue
		}
		kept = append(kept, item)
	}

	c.mu.Lock()
	state.items.Store(&kept)
	state.ready.Store(true)
	state.dirty.Store(false)
	c.mu.Unlock()

	return nil
}

// LoadAll loads every source synchronously, continuing past per-source
// failures. A source that fails to load simply stays not-ready.
func (c *Corpus) LoadAll(ctx context.Context) {
	for _, sourceType := range domain.AllSourceTypes {
		if err := c.LoadSource(ctx, sourceType); err != nil {
			log.Printf("corpus: source %s unavailable: %v", sourceType, err)
		}
	}
}

// LoadAsync kicks off per-source initialization in the background and
// returns immediately. Searches against a source that has not finished
// loading degrade to source-unavailable.
func (c *Corpus) LoadAsync(ctx context.Context) {
	for _, sourceType := range domain.AllSourceTypes {
		go func(st domain.SourceType) {
			if err := c.LoadSource(ctx, st); err != nil {
				log.Printf("corpus: source %s unavailable: %v", st, err)
			}
		}(sourceType)
	}
}

// Ready reports whether the source finished its initial load.
func (c *Corpus) Ready(sourceType domain.SourceType) bool {
	state, ok := c.sources[sourceType]
	return ok && state.ready.Load()
}

// Items returns the current snapshot for a source. The returned slice is
// shared and must be treated as read-only.
func (c *Corpus) Items(sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	state, ok := c.sources[sourceType]
	if !ok {
		return nil, domain.ErrInvalidSourceType
	}
	if !state.ready.Load() {
		return nil, domain.ErrSourceNotReady
	}
	snapshot := state.items.Load()
	if snapshot == nil {
		return nil, domain.ErrSourceNotReady
	}
	return *snapshot, nil
}

// GetByID returns one item from the source snapshot.
func (c *Corpus) GetByID(sourceType domain.SourceType, id string) (*domain.KnowledgeItem, error) {
	items, err := c.Items(sourceType)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, domain.ErrItemNotFound
}

// Find locates an item by id across every ready source.
func (c *Corpus) Find(id string) (*domain.KnowledgeItem, domain.SourceType, error) {
	for _, sourceType := range domain.AllSourceTypes {
		item, err := c.GetByID(sourceType, id)
		if err == nil {
			return item, sourceType, nil
		}
	}
	return nil, "", domain.ErrItemNotFound
}

// Replace swaps in a full new snapshot for a source (bulk re-sync).
func (c *Corpus) Replace(sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	state, ok := c.sources[sourceType]
	if !ok {
		return domain.ErrInvalidSourceType
	}

	c.mu.Lock()
	state.items.Store(&items)
	state.ready.Store(true)
	state.dirty.Store(true)
	c.mu.Unlock()

	return nil
}

// AttachEmbedding stores a freshly computed embedding on an item via
// copy-on-write and marks the source for the next flush.
func (c *Corpus) AttachEmbedding(sourceType domain.SourceType, id string, embedding []float32) error {
	return c.updateItem(sourceType, id, func(item *domain.KnowledgeItem) bool {
		item.Embedding = embedding
		item.UpdatedAt = time.Now().UTC()
		return true
	})
}

// AddKeyword appends a keyword to an item via copy-on-write. Returns false
// without mutating anything when the keyword is already present.
func (c *Corpus) AddKeyword(sourceType domain.SourceType, id, keyword string) (bool, error) {
	changed := false
	err := c.updateItem(sourceType, id, func(item *domain.KnowledgeItem) bool {
		changed = item.AddKeyword(keyword)
		return changed
	})
	return changed, err
}

// IncrementValidation bumps an item's validation counter.
func (c *Corpus) IncrementValidation(sourceType domain.SourceType, id string) error {
	return c.updateItem(sourceType, id, func(item *domain.KnowledgeItem) bool {
		item.ValidationCount++
		return true
	})
}

// updateItem clones the snapshot, applies mutate to a copy of the matching
// item, and swaps the new snapshot in. mutate reports whether it changed
// the item; an unchanged item leaves the old snapshot in place.
func (c *Corpus) updateItem(sourceType domain.SourceType, id string, mutate func(*domain.KnowledgeItem) bool) error {
	state, ok := c.sources[sourceType]
	if !ok {
		return domain.ErrInvalidSourceType
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !state.ready.Load() {
		return domain.ErrSourceNotReady
	}
	snapshot := state.items.Load()
	if snapshot == nil {
		return domain.ErrSourceNotReady
	}

	old := *snapshot
	next := make([]*domain.KnowledgeItem, len(old))
	copy(next, old)

	for i, item := range next {
		if item.ID != id {
			continue
		}
		clone := *item
		clone.Keywords = append([]string(nil), item.Keywords...)
		clone.Metadata = append([]domain.MetadataField(nil), item.Metadata...)
		if !mutate(&clone) {
			return nil
		}
		next[i] = &clone
		state.items.Store(&next)
		state.dirty.Store(true)
		return nil
	}

	return domain.ErrItemNotFound
}

// Flush persists every dirty source through the store's save contract.
func (c *Corpus) Flush(ctx context.Context) error {
	for _, sourceType := range domain.AllSourceTypes {
		state := c.sources[sourceType]
		if !state.ready.Load() || !state.dirty.Load() {
			continue
		}
		snapshot := state.items.Load()
		if snapshot == nil {
			continue
		}
		if err := c.store.Save(ctx, sourceType, *snapshot); err != nil {
			return fmt.Errorf("failed to save source %s: %w", sourceType, err)
		}
		state.dirty.Store(false)
	}
	return nil
}

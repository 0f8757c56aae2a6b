package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
)

// maxBackfillBatch bounds provider calls per poll so a large import does
// not saturate the embedding quota in one tick.
const maxBackfillBatch = 20

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BackfillWorker walks the corpus for items without an embedding and fills
// them in. Failed items are left as-is and picked up on a later poll, so a
// provider outage only delays semantic coverage.
type BackfillWorker struct {
	corpus    *corpus.Corpus
	embedding EmbeddingClient
}

// NewBackfillWorker creates a new BackfillWorker instance
func NewBackfillWorker(c *corpus.Corpus, embedding EmbeddingClient) *BackfillWorker {
	return &BackfillWorker{corpus: c, embedding: embedding}
}

// ProcessJobs implements the JobProcessor interface
func (w *BackfillWorker) ProcessJobs(ctx context.Context) error {
	budget := maxBackfillBatch

	for _, sourceType := range domain.AllSourceTypes {
		if budget == 0 {
			break
		}

		items, err := w.corpus.Items(sourceType)
		if err != nil {
			// Source not loaded yet; try again next poll.
			continue
		}

		for _, item := range items {
			if item.HasEmbedding() {
				continue
			}
			if budget == 0 {
				break
			}
			budget--

			embedding, err := w.embedding.GenerateEmbedding(ctx, item.SearchableText)
			if err != nil {
				return fmt.Errorf("embedding backfill for %s: %w", item.ID, err)
			}
			if err := w.corpus.AttachEmbedding(sourceType, item.ID, embedding); err != nil {
				log.Printf("backfill: attach failed for %s: %v", item.ID, err)
			}
		}
	}

	if done := maxBackfillBatch - budget; done > 0 {
		log.Printf("backfill: embedded %d items", done)
	}
	return nil
}

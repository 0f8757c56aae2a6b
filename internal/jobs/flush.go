package jobs

import (
	"context"
	"fmt"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
)

// CacheSnapshotter exposes the semantic cache's durable-flush surface.
type CacheSnapshotter interface {
	Snapshot() []*domain.CacheEntry
}

// FeedbackSnapshotter exposes the learner's durable-flush surface.
type FeedbackSnapshotter interface {
	SnapshotRecords() []*domain.FeedbackRecord
}

// StateSink persists cache and feedback snapshots.
type StateSink interface {
	SaveCacheEntries(ctx context.Context, entries []*domain.CacheEntry) error
	SaveFeedback(ctx context.Context, records []*domain.FeedbackRecord) error
}

// FlushWorker periodically writes dirty corpus sources and the current
// cache and feedback state to durable storage. Sink and snapshotters are
// optional; a nil sink flushes the corpus only.
type FlushWorker struct {
	corpus   *corpus.Corpus
	cache    CacheSnapshotter
	feedback FeedbackSnapshotter
	sink     StateSink
}

// NewFlushWorker creates a new FlushWorker instance
func NewFlushWorker(c *corpus.Corpus, cache CacheSnapshotter, feedback FeedbackSnapshotter, sink StateSink) *FlushWorker {
	return &FlushWorker{corpus: c, cache: cache, feedback: feedback, sink: sink}
}

// ProcessJobs implements the JobProcessor interface
func (w *FlushWorker) ProcessJobs(ctx context.Context) error {
	if err := w.corpus.Flush(ctx); err != nil {
		return fmt.Errorf("corpus flush: %w", err)
	}

	if w.sink == nil {
		return nil
	}

	if w.cache != nil {
		if err := w.sink.SaveCacheEntries(ctx, w.cache.Snapshot()); err != nil {
			return fmt.Errorf("cache flush: %w", err)
		}
	}
	if w.feedback != nil {
		if err := w.sink.SaveFeedback(ctx, w.feedback.SnapshotRecords()); err != nil {
			return fmt.Errorf("feedback flush: %w", err)
		}
	}

	return nil
}

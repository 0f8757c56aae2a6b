package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
)

const (
	defaultKeywordApplyThreshold = 3
	defaultFailureAlertThreshold = 5
	defaultHighConfidenceScore   = 0.75
	failurePatternSimilarity     = 0.5
)

// LearnerConfig tunes the feedback-driven learning thresholds.
type LearnerConfig struct {
	KeywordApplyThreshold int
	FailureAlertThreshold int
	HighConfidenceScore   float32
}

// DefaultLearnerConfig returns the default learning thresholds.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		KeywordApplyThreshold: defaultKeywordApplyThreshold,
		FailureAlertThreshold: defaultFailureAlertThreshold,
		HighConfidenceScore:   defaultHighConfidenceScore,
	}
}

// FailurePattern groups recurring low-confidence or negatively rated
// queries by token overlap. Alerted guards against duplicate alerts.
type FailurePattern struct {
	Tokens   []string
	Examples []string
	Count    int
	Alerted  bool
}

// KeywordSuggestion is a pending keyword enrichment that has not yet
// reached the auto-apply threshold.
type KeywordSuggestion struct {
	ItemID  string
	Keyword string
	Count   int
}

// LearnerStats aggregates feedback counts and suggestions.
type LearnerStats struct {
	TotalFeedback      int
	HelpfulCount       int
	UnhelpfulCount     int
	PendingReview      int
	AppliedCount       int
	DismissedCount     int
	CachedResponses    int
	AppliedKeywords    int
	KeywordSuggestions []KeywordSuggestion
	FailurePatterns    int
	AlertedPatterns    int
}

// RecordFeedbackInput carries a user verdict into the learner.
type RecordFeedbackInput struct {
	Query       string
	Response    string
	IsHelpful   bool
	SourcesUsed []string
	Specialist  domain.Specialist
	// TopScore is the best boosted score of the sources behind the
	// response; it gates the positive-feedback cache path.
	TopScore float32
	// Correction and TargetItemID accompany negative feedback when the
	// user points at the item the answer should have come from.
	Correction   string
	TargetItemID string
}

// AlertFunc is invoked exactly once when a failure pattern crosses the
// alert threshold.
type AlertFunc func(pattern *FailurePattern)

// AutoLearner consumes feedback signals to promote search keywords, seed
// the semantic cache, and flag recurring failure patterns. It owns all
// FeedbackRecords; counters are guarded by a single mutex since increments
// are read-modify-write.
type AutoLearner struct {
	cfg       LearnerConfig
	corpus    *corpus.Corpus
	cache     *SemanticCache
	embedding EmbeddingClient
	alert     AlertFunc
	newID     func() string
	now       func() time.Time

	mu            sync.Mutex
	records       map[string]*domain.FeedbackRecord
	order         []string
	keywordCounts map[string]map[string]int
	failures      []*FailurePattern
	cachedCount   int
	appliedCount  int
}

// NewAutoLearner creates an AutoLearner with default thresholds.
func NewAutoLearner(c *corpus.Corpus, cache *SemanticCache, embedding EmbeddingClient, newID func() string) *AutoLearner {
	return NewAutoLearnerWithConfig(c, cache, embedding, newID, DefaultLearnerConfig())
}

// NewAutoLearnerWithConfig creates an AutoLearner with explicit thresholds.
func NewAutoLearnerWithConfig(c *corpus.Corpus, cache *SemanticCache, embedding EmbeddingClient, newID func() string, cfg LearnerConfig) *AutoLearner {
	if cfg.KeywordApplyThreshold <= 0 {
		cfg.KeywordApplyThreshold = defaultKeywordApplyThreshold
	}
	if cfg.FailureAlertThreshold <= 0 {
		cfg.FailureAlertThreshold = defaultFailureAlertThreshold
	}
	if cfg.HighConfidenceScore <= 0 {
		cfg.HighConfidenceScore = defaultHighConfidenceScore
	}
	return &AutoLearner{
		cfg:           cfg,
		corpus:        c,
		cache:         cache,
		embedding:     embedding,
		newID:         newID,
		now:           time.Now,
		records:       make(map[string]*domain.FeedbackRecord),
		keywordCounts: make(map[string]map[string]int),
		alert: func(pattern *FailurePattern) {
			log.Printf("learner: recurring failure pattern (%d occurrences): %q", pattern.Count, pattern.Examples[0])
		},
	}
}

// SetAlertFunc overrides the failure-pattern alert hook.
func (l *AutoLearner) SetAlertFunc(fn AlertFunc) {
	if fn != nil {
		l.alert = fn
	}
}

// RecordFeedback ingests one feedback signal and runs its side effects:
// keyword promotion and failure tracking for negative feedback, cache
// seeding for high-confidence positive feedback.
func (l *AutoLearner) RecordFeedback(ctx context.Context, input RecordFeedbackInput) (*domain.FeedbackRecord, error) {
	record := domain.NewFeedbackRecord(
		l.newID(), input.Query, input.Response, input.IsHelpful,
		input.SourcesUsed, input.Specialist, l.now().UTC(),
	)
	record.Correction = input.Correction
	record.TargetItemID = input.TargetItemID
	if err := domain.ValidateFeedbackRecord(record); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid feedback", err)
	}

	l.mu.Lock()
	l.records[record.ID] = record
	l.order = append(l.order, record.ID)
	l.mu.Unlock()

	if input.IsHelpful {
		l.ingestPositive(ctx, record, input.TopScore)
	} else {
		l.ingestNegative(record)
		l.trackFailure(record.Query)
	}
	if input.IsHelpful && input.TopScore < l.cfg.HighConfidenceScore {
		// Positive but weakly grounded answers are still failure candidates.
		l.trackFailure(record.Query)
	}

	return record, nil
}

// ingestPositive bumps validation counters for the sources behind a helpful
// answer and, for high-confidence answers, seeds the semantic cache.
func (l *AutoLearner) ingestPositive(ctx context.Context, record *domain.FeedbackRecord, topScore float32) {
	for _, itemID := range record.SourcesUsed {
		_, sourceType, err := l.corpus.Find(itemID)
		if err != nil {
			continue
		}
		if err := l.corpus.IncrementValidation(sourceType, itemID); err != nil {
			log.Printf("learner: validation bump failed for %s: %v", itemID, err)
		}
	}

	if topScore < l.cfg.HighConfidenceScore || l.cache == nil || l.embedding == nil {
		return
	}

	embedding, err := l.embedding.GenerateEmbedding(ctx, record.Query)
	if err != nil {
		log.Printf("learner: skipping cache seed, embedding failed: %v", err)
		return
	}
	l.cache.Store(record.Query, embedding, record.Response, record.Specialist)

	l.mu.Lock()
	l.cachedCount++
	l.mu.Unlock()
}

// ingestNegative extracts keywords from the user's correction, counts them
// per target item, and auto-applies any keyword that reaches the threshold.
// The auto-apply is the learner's single write path into the corpus and is
// idempotent.
func (l *AutoLearner) ingestNegative(record *domain.FeedbackRecord) {
	if record.Correction == "" || record.TargetItemID == "" {
		return
	}

	keywords := tokenizeQuery(record.Correction, defaultStopWords)
	if len(keywords) == 0 {
		return
	}
	record.ExtractedKeywords = keywords

	_, sourceType, err := l.corpus.Find(record.TargetItemID)
	if err != nil {
		log.Printf("learner: correction targets unknown item %s", record.TargetItemID)
		return
	}

	applied := false

	l.mu.Lock()
	counts, ok := l.keywordCounts[record.TargetItemID]
	if !ok {
		counts = make(map[string]int)
		l.keywordCounts[record.TargetItemID] = counts
	}
	var reached []string
	for _, keyword := range keywords {
		counts[keyword]++
		if counts[keyword] >= l.cfg.KeywordApplyThreshold {
			reached = append(reached, keyword)
		}
	}
	l.mu.Unlock()

	for _, keyword := range reached {
		changed, err := l.corpus.AddKeyword(sourceType, record.TargetItemID, keyword)
		if err != nil {
			log.Printf("learner: keyword apply failed for %s: %v", record.TargetItemID, err)
			continue
		}
		if changed {
			applied = true
			l.mu.Lock()
			l.appliedCount++
			l.mu.Unlock()
		}
	}

	if applied {
		if err := record.MarkApplied(); err != nil {
			log.Printf("learner: could not mark record %s applied: %v", record.ID, err)
		}
	}
}

// trackFailure groups the query into a failure pattern by token overlap and
// alerts exactly once when a pattern crosses the threshold.
func (l *AutoLearner) trackFailure(query string) {
	tokens := tokenizeQuery(query, defaultStopWords)
	if len(tokens) == 0 {
		return
	}

	var toAlert *FailurePattern

	l.mu.Lock()
	var pattern *FailurePattern
	for _, existing := range l.failures {
		if jaccardSimilarity(tokens, existing.Tokens) >= failurePatternSimilarity {
			pattern = existing
			break
		}
	}
	if pattern == nil {
		pattern = &FailurePattern{Tokens: tokens}
		l.failures = append(l.failures, pattern)
	}
	pattern.Count++
	if len(pattern.Examples) < 3 {
		pattern.Examples = append(pattern.Examples, query)
	}
	if pattern.Count >= l.cfg.FailureAlertThreshold && !pattern.Alerted {
		pattern.Alerted = true
		toAlert = pattern
	}
	l.mu.Unlock()

	if toAlert != nil {
		l.alert(toAlert)
	}
}

// Review transitions a record to Reviewed.
func (l *AutoLearner) Review(id string) error {
	return l.transition(id, (*domain.FeedbackRecord).MarkReviewed)
}

// Apply transitions a record to Applied.
func (l *AutoLearner) Apply(id string) error {
	return l.transition(id, (*domain.FeedbackRecord).MarkApplied)
}

// Dismiss transitions a record to Dismissed.
func (l *AutoLearner) Dismiss(id string) error {
	return l.transition(id, (*domain.FeedbackRecord).MarkDismissed)
}

func (l *AutoLearner) transition(id string, op func(*domain.FeedbackRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[id]
	if !ok {
		return domain.ErrFeedbackNotFound
	}
	return op(record)
}

// Sweep removes records older than maxAge. This retention sweep is the only
// way feedback records are ever deleted.
func (l *AutoLearner) Sweep(maxAge time.Duration) int {
	cutoff := l.now().UTC().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.order[:0]
	removed := 0
	for _, id := range l.order {
		record := l.records[id]
		if record.CreatedAt.Before(cutoff) {
			delete(l.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	return removed
}

// Stats returns aggregate counters and pending keyword suggestions.
func (l *AutoLearner) Stats() LearnerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := LearnerStats{
		TotalFeedback:   len(l.records),
		CachedResponses: l.cachedCount,
		AppliedKeywords: l.appliedCount,
		FailurePatterns: len(l.failures),
	}

	for _, record := range l.records {
		if record.IsHelpful {
			stats.HelpfulCount++
		} else {
			stats.UnhelpfulCount++
		}
		switch record.Status {
		case domain.FeedbackStatusNew:
			stats.PendingReview++
		case domain.FeedbackStatusApplied:
			stats.AppliedCount++
		case domain.FeedbackStatusDismissed:
			stats.DismissedCount++
		}
	}

	for itemID, counts := range l.keywordCounts {
		for keyword, count := range counts {
			if count < l.cfg.KeywordApplyThreshold {
				stats.KeywordSuggestions = append(stats.KeywordSuggestions, KeywordSuggestion{
					ItemID:  itemID,
					Keyword: keyword,
					Count:   count,
				})
			}
		}
	}

	for _, pattern := range l.failures {
		if pattern.Alerted {
			stats.AlertedPatterns++
		}
	}

	return stats
}

// SnapshotRecords returns a copy of all feedback records in insertion order
// for durable flush.
func (l *AutoLearner) SnapshotRecords() []*domain.FeedbackRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.FeedbackRecord, 0, len(l.order))
	for _, id := range l.order {
		clone := *l.records[id]
		out = append(out, &clone)
	}
	return out
}

// RestoreRecords seeds the learner from persisted records.
func (l *AutoLearner) RestoreRecords(records []*domain.FeedbackRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range records {
		if domain.ValidateFeedbackRecord(record) != nil {
			continue
		}
		if _, ok := l.records[record.ID]; ok {
			continue
		}
		l.records[record.ID] = record
		l.order = append(l.order, record.ID)
	}
}

// jaccardSimilarity is |intersection| / |union| over token sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	intersection := 0
	union := len(setA)
	seenB := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seenB[t]; dup {
			continue
		}
		seenB[t] = struct{}{}
		if _, ok := setA[t]; ok {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

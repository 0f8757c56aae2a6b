package domain

import (
	"fmt"
	"time"
)

// FeedbackStatus represents the review state of a feedback record
type FeedbackStatus string

const (
	FeedbackStatusNew       FeedbackStatus = "new"
	FeedbackStatusReviewed  FeedbackStatus = "reviewed"
	FeedbackStatusApplied   FeedbackStatus = "applied"
	FeedbackStatusDismissed FeedbackStatus = "dismissed"
)

// FeedbackRecord captures a user's verdict on an answer, with enough
// provenance to enrich the corpus or seed the response cache.
type FeedbackRecord struct {
	ID                string
	Query             string
	Response          string
	IsHelpful         bool
	SourcesUsed       []string
	Specialist        Specialist
	ExtractedKeywords []string
	// Correction is an optional user-supplied hint on negative feedback;
	// TargetItemID names the knowledge item the correction should enrich.
	Correction   string
	TargetItemID string
	Status       FeedbackStatus
	CreatedAt    time.Time
}

// NewFeedbackRecord creates a FeedbackRecord in the New state.
func NewFeedbackRecord(id, query, response string, isHelpful bool, sources []string, specialist Specialist, now time.Time) *FeedbackRecord {
	return &FeedbackRecord{
		ID:          id,
		Query:       query,
		Response:    response,
		IsHelpful:   isHelpful,
		SourcesUsed: sources,
		Specialist:  specialist,
		Status:      FeedbackStatusNew,
		CreatedAt:   now,
	}
}

// MarkReviewed transitions New -> Reviewed.
func (f *FeedbackRecord) MarkReviewed() error {
	if f.Status == FeedbackStatusDismissed {
		return ErrFeedbackDismissed
	}
	if f.Status == FeedbackStatusApplied {
		return ErrFeedbackAlreadyApplied
	}
	f.Status = FeedbackStatusReviewed
	return nil
}

// MarkApplied transitions New or Reviewed -> Applied.
func (f *FeedbackRecord) MarkApplied() error {
	switch f.Status {
	case FeedbackStatusDismissed:
		return ErrFeedbackDismissed
	case FeedbackStatusApplied:
		return ErrFeedbackAlreadyApplied
	}
	f.Status = FeedbackStatusApplied
	return nil
}

// MarkDismissed transitions any non-applied state -> Dismissed.
func (f *FeedbackRecord) MarkDismissed() error {
	if f.Status == FeedbackStatusApplied {
		return ErrFeedbackAlreadyApplied
	}
	f.Status = FeedbackStatusDismissed
	return nil
}

// ValidateFeedbackRecord validates a FeedbackRecord instance
func ValidateFeedbackRecord(f *FeedbackRecord) error {
	if f == nil {
		return fmt.Errorf("feedback record cannot be nil")
	}

	if f.ID == "" {
		return fmt.Errorf("feedback record ID is required")
	}

	if f.Query == "" {
		return fmt.Errorf("feedback record Query is required")
	}

	if !IsValidSpecialist(f.Specialist) {
		return fmt.Errorf("feedback record Specialist is invalid: %s", f.Specialist)
	}

	if !isValidFeedbackStatus(f.Status) {
		return fmt.Errorf("feedback record Status is invalid: %s", f.Status)
	}

	return nil
}

// isValidFeedbackStatus checks if a FeedbackStatus is valid
func isValidFeedbackStatus(s FeedbackStatus) bool {
	switch s {
	case FeedbackStatusNew, FeedbackStatusReviewed, FeedbackStatusApplied, FeedbackStatusDismissed:
		return true
	}
	return false
}

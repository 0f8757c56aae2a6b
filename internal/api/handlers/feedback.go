package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deskmate-ai/deskmate/internal/api"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/service"
)

// LearnerService is the feedback surface the handler consumes.
type LearnerService interface {
	RecordFeedback(ctx context.Context, input service.RecordFeedbackInput) (*domain.FeedbackRecord, error)
	Review(id string) error
	Apply(id string) error
	Dismiss(id string) error
}

type FeedbackHandler struct {
	svc LearnerService
}

func NewFeedbackHandler(svc LearnerService) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

type RecordFeedbackRequest struct {
	Query        string   `json:"query"`
	Response     string   `json:"response"`
	IsHelpful    bool     `json:"is_helpful"`
	SourcesUsed  []string `json:"sources_used"`
	Specialist   string   `json:"specialist"`
	TopScore     float32  `json:"top_score"`
	Correction   string   `json:"correction,omitempty"`
	TargetItemID string   `json:"target_item_id,omitempty"`
}

type FeedbackResponse struct {
	ID                string   `json:"id"`
	Status            string   `json:"status"`
	ExtractedKeywords []string `json:"extracted_keywords,omitempty"`
}

func (h *FeedbackHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Response == "" {
		api.Error(w, http.StatusBadRequest, "response is required")
		return
	}

	record, err := h.svc.RecordFeedback(r.Context(), service.RecordFeedbackInput{
		Query:        req.Query,
		Response:     req.Response,
		IsHelpful:    req.IsHelpful,
		SourcesUsed:  req.SourcesUsed,
		Specialist:   domain.Specialist(req.Specialist),
		TopScore:     req.TopScore,
		Correction:   req.Correction,
		TargetItemID: req.TargetItemID,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, &FeedbackResponse{
		ID:                record.ID,
		Status:            string(record.Status),
		ExtractedKeywords: record.ExtractedKeywords,
	})
}

type TransitionRequest struct {
	Status string `json:"status"`
}

// Transition moves a feedback record through its review lifecycle.
func (h *FeedbackHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "feedback id is required")
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch domain.FeedbackStatus(req.Status) {
	case domain.FeedbackStatusReviewed:
		err = h.svc.Review(id)
	case domain.FeedbackStatusApplied:
		err = h.svc.Apply(id)
	case domain.FeedbackStatusDismissed:
		err = h.svc.Dismiss(id)
	default:
		api.Error(w, http.StatusBadRequest, "invalid status: "+req.Status)
		return
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

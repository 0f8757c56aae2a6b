package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/deskmate-ai/deskmate/internal/api"
	"github.com/deskmate-ai/deskmate/internal/openai"
	"github.com/deskmate-ai/deskmate/internal/service"
)

// AssistantService is the query pipeline surface the chat endpoints use.
type AssistantService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error)
	AskStream(ctx context.Context, input service.AskInput) (*service.AskOutput, service.TextStream, error)
}

type ChatHandler struct {
	svc AssistantService
}

func NewChatHandler(svc AssistantService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Query   string        `json:"query"`
	History []ChatMessage `json:"history"`
}

type ChatResponse struct {
	Response   string              `json:"response"`
	Specialist string              `json:"specialist"`
	Sources    []service.SourceRef `json:"sources"`
	FromCache  bool                `json:"from_cache"`
	Structured bool                `json:"structured"`
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	output, err := h.svc.Ask(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, chatToResponse(output))
}

// AskStream answers over newline-delimited JSON chunks. The final chunk
// carries done=true plus the answer's provenance.
func (h *ChatHandler) AskStream(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	output, stream, err := h.svc.AskStream(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	defer stream.Close()

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are out; best effort is a terminal error chunk.
			_ = encoder.Encode(streamChunk{Error: err.Error(), Done: true})
			return
		}
		if err := encoder.Encode(streamChunk{Delta: chunk}); err != nil {
			log.Printf("chat stream: client write failed: %v", err)
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	_ = encoder.Encode(streamChunk{Done: true, Result: chatToResponse(output)})
	if canFlush {
		flusher.Flush()
	}
}

type streamChunk struct {
	Delta  string        `json:"delta,omitempty"`
	Done   bool          `json:"done,omitempty"`
	Error  string        `json:"error,omitempty"`
	Result *ChatResponse `json:"result,omitempty"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (service.AskInput, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return service.AskInput{}, false
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return service.AskInput{}, false
	}

	history := make([]openai.Message, 0, len(req.History))
	for _, m := range req.History {
		switch m.Role {
		case openai.RoleUser, openai.RoleAssistant, openai.RoleSystem:
		default:
			api.Error(w, http.StatusBadRequest, "invalid history role: "+m.Role)
			return service.AskInput{}, false
		}
		history = append(history, openai.Message{Role: m.Role, Content: m.Content})
	}

	return service.AskInput{Query: req.Query, History: history}, true
}

func chatToResponse(output *service.AskOutput) *ChatResponse {
	sources := output.Sources
	if sources == nil {
		sources = []service.SourceRef{}
	}
	return &ChatResponse{
		Response:   output.Response,
		Specialist: string(output.Specialist),
		Sources:    sources,
		FromCache:  output.FromCache,
		Structured: output.Structured,
	}
}

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/service"
)

type MockAssistantService struct {
	mock.Mock
}

func (m *MockAssistantService) Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AskOutput), args.Error(1)
}

func (m *MockAssistantService) AskStream(ctx context.Context, input service.AskInput) (*service.AskOutput, service.TextStream, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*service.AskOutput), args.Get(1).(service.TextStream), args.Error(2)
}

type fakeTextStream struct {
	chunks []string
	pos    int
}

func (s *fakeTextStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *fakeTextStream) Close() error { return nil }

func newTestAskOutput() *service.AskOutput {
	return &service.AskOutput{
		Response:   "Restart the VPN client.",
		Specialist: domain.SpecialistNetwork,
		Sources: []service.SourceRef{
			{ID: "wiki-1", SourceType: domain.SourceTypeWikiPage, Title: "VPN Setup"},
		},
		TopScore: 1.0,
	}
}

func TestChatHandler_Ask_Success(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	mockSvc.On("Ask", mock.Anything, mock.MatchedBy(func(input service.AskInput) bool {
		return input.Query == "vpn is broken" && len(input.History) == 1
	})).Return(newTestAskOutput(), nil)

	body := `{"query":"vpn is broken","history":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()

	handler.Ask(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "Restart the VPN client.", data["response"])
	assert.Equal(t, "network", data["specialist"])
	assert.Equal(t, false, data["from_cache"])
	sources := data["sources"].([]interface{})
	require.Len(t, sources, 1)
	assert.Equal(t, "wiki-1", sources[0].(map[string]interface{})["id"])
	mockSvc.AssertExpectations(t)
}

func TestChatHandler_Ask_EmptyQuery(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(`{"query":""}`)))
	w := httptest.NewRecorder()

	handler.Ask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "query is required")
}

func TestChatHandler_Ask_InvalidJSON(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(`{invalid`)))
	w := httptest.NewRecorder()

	handler.Ask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestChatHandler_Ask_InvalidHistoryRole(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	body := `{"query":"hello","history":[{"role":"moderator","content":"x"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()

	handler.Ask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid history role")
}

func TestChatHandler_Ask_ValidationError(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	mockSvc.On("Ask", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrCodeValidation, "query is empty"))

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(`{"query":"   "}`)))
	w := httptest.NewRecorder()

	handler.Ask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestChatHandler_AskStream_Success(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	stream := &fakeTextStream{chunks: []string{"Restart ", "the VPN client."}}
	mockSvc.On("AskStream", mock.Anything, mock.Anything).
		Return(newTestAskOutput(), stream, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", bytes.NewReader([]byte(`{"query":"vpn is broken"}`)))
	w := httptest.NewRecorder()

	handler.AskStream(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	var chunks []streamChunk
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var chunk streamChunk
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &chunk))
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "Restart ", chunks[0].Delta)
	assert.Equal(t, "the VPN client.", chunks[1].Delta)
	assert.True(t, chunks[2].Done)
	require.NotNil(t, chunks[2].Result)
	assert.Equal(t, "Restart the VPN client.", chunks[2].Result.Response)
	assert.Equal(t, "network", chunks[2].Result.Specialist)
	mockSvc.AssertExpectations(t)
}

func TestChatHandler_AskStream_ServiceError(t *testing.T) {
	mockSvc := new(MockAssistantService)
	handler := NewChatHandler(mockSvc)

	mockSvc.On("AskStream", mock.Anything, mock.Anything).
		Return(nil, nil, domain.NewDomainError(domain.ErrCodeValidation, "query is empty"))

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", bytes.NewReader([]byte(`{"query":"  "}`)))
	w := httptest.NewRecorder()

	handler.AskStream(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertExpectations(t)
}

package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/openai"
)

type fakeCompletion struct {
	answer     string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeCompletion) Complete(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeCompletion) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (TextStream, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return nil, f.err
	}
	return newStaticStream(f.answer), nil
}

func newTestAssistant(c *corpus.Corpus, embedding EmbeddingClient, completion CompletionClient) *Assistant {
	engine := NewRetrievalEngine(c, embedding)
	return NewAssistant(NewRouter(nil), NewSemanticCache(), engine, NewContextAssembler(), completion, c)
}

func assistantCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	return buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeWikiPage: {
			knowledgeItem("wiki-vpn", domain.SourceTypeWikiPage, "VPN Setup", "Install the vpn client and log in with your domain account", nil),
		},
	})
}

func TestAsk_Pipeline(t *testing.T) {
	completion := &fakeCompletion{answer: "Install the client, then sign in."}
	assistant := newTestAssistant(assistantCorpus(t), &fakeEmbedder{fallback: []float32{1, 0}}, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)

	assert.Equal(t, "Install the client, then sign in.", out.Response)
	assert.Equal(t, domain.SpecialistNetwork, out.Specialist)
	assert.False(t, out.FromCache)
	assert.False(t, out.Structured)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "wiki-vpn", out.Sources[0].ID)
	assert.Equal(t, domain.SourceTypeWikiPage, out.Sources[0].SourceType)
	assert.Equal(t, float32(1.0), out.TopScore)

	assert.Contains(t, completion.lastSystem, "network")
	assert.Contains(t, completion.lastUser, "VPN Setup")
	assert.Contains(t, completion.lastUser, "my vpn is down")
}

func TestAsk_SecondCallServedFromCache(t *testing.T) {
	completion := &fakeCompletion{answer: "Install the client, then sign in."}
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	assistant := newTestAssistant(assistantCorpus(t), embedder, completion)

	first, err := assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)

	second, err := assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, completion.calls, "the cached answer skips the completion call")
	assert.Equal(t, 1, embedder.calls, "an exact cache hit skips the embedding call")
}

func TestAsk_EmptyQuery(t *testing.T) {
	assistant := newTestAssistant(assistantCorpus(t), nil, &fakeCompletion{answer: "x"})

	_, err := assistant.Ask(context.Background(), AskInput{Query: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestAsk_StructuredERPAnswer(t *testing.T) {
	completion := &fakeCompletion{answer: "unused"}
	assistant := newTestAssistant(assistantCorpus(t), nil, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "I need SAP transaction ME21N access"})
	require.NoError(t, err)

	assert.True(t, out.Structured)
	assert.Equal(t, domain.SpecialistERP, out.Specialist)
	assert.Contains(t, out.Response, "Z_PURCHASING_BUYER")
	assert.Zero(t, completion.calls, "structured answers bypass the completion provider")
}

func TestAsk_NoKnowledgeFallback(t *testing.T) {
	completion := &fakeCompletion{answer: "unused"}
	assistant := newTestAssistant(assistantCorpus(t), nil, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "quantum flux capacitor manual"})
	require.NoError(t, err)

	assert.Equal(t, NoKnowledgeResponse, out.Response)
	assert.Empty(t, out.Sources)
	assert.Zero(t, completion.calls)
}

func TestAsk_CompletionFailureFallback(t *testing.T) {
	completion := &fakeCompletion{err: errors.New("provider down")}
	assistant := newTestAssistant(assistantCorpus(t), nil, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err, "completion failure must not surface as an error")

	assert.Equal(t, CompletionUnavailableResponse, out.Response)
	require.Len(t, out.Sources, 1, "sources are still reported with the fallback")

	// The failed answer is not cached; a retry hits the provider again.
	_, err = assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)
	assert.Equal(t, 2, completion.calls)
}

func TestAsk_TicketReferenceMerged(t *testing.T) {
	c := buildCorpus(t, map[domain.SourceType][]*domain.KnowledgeItem{
		domain.SourceTypeTicketSolution: {
			knowledgeItem("IT-99", domain.SourceTypeTicketSolution, "Network drive mapping", "Map the drive using the logon script", nil),
		},
	})
	completion := &fakeCompletion{answer: "See the referenced solution."}
	assistant := newTestAssistant(c, nil, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "same symptoms as IT-99, please check"})
	require.NoError(t, err)

	require.Len(t, out.Sources, 1)
	assert.Equal(t, "IT-99", out.Sources[0].ID)
	assert.Contains(t, completion.lastUser, "Network drive mapping")
}

func TestAsk_UnknownTicketReference(t *testing.T) {
	completion := &fakeCompletion{answer: "answer"}
	assistant := newTestAssistant(assistantCorpus(t), nil, completion)

	out, err := assistant.Ask(context.Background(), AskInput{Query: "vpn broken, see HD-12345"})
	require.NoError(t, err)

	// The unknown ticket is ignored; retrieval results still answer.
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "wiki-vpn", out.Sources[0].ID)
}

func TestAskStream_CollectsChunks(t *testing.T) {
	completion := &fakeCompletion{answer: "Install the client."}
	assistant := newTestAssistant(assistantCorpus(t), nil, completion)

	out, stream, err := assistant.AskStream(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)
	require.Len(t, out.Sources, 1)

	assert.Equal(t, "Install the client.", drainStream(t, stream))
}

func TestAskStream_StructuredSingleChunk(t *testing.T) {
	assistant := newTestAssistant(assistantCorpus(t), nil, &fakeCompletion{answer: "unused"})

	out, stream, err := assistant.AskStream(context.Background(), AskInput{Query: "access to ME21N in SAP"})
	require.NoError(t, err)
	assert.True(t, out.Structured)
	assert.Equal(t, out.Response, drainStream(t, stream))
}

func TestAskStream_CachedSingleChunk(t *testing.T) {
	completion := &fakeCompletion{answer: "Install the client."}
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	assistant := newTestAssistant(assistantCorpus(t), embedder, completion)

	_, err := assistant.Ask(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)

	out, stream, err := assistant.AskStream(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)

	assert.True(t, out.FromCache)
	assert.Equal(t, "Install the client.", drainStream(t, stream))
	assert.Equal(t, 1, embedder.calls, "an exact cache hit skips the embedding call")
}

func TestAskStream_CompletionFailureFallback(t *testing.T) {
	assistant := newTestAssistant(assistantCorpus(t), nil, &fakeCompletion{err: errors.New("provider down")})

	out, stream, err := assistant.AskStream(context.Background(), AskInput{Query: "my vpn is down"})
	require.NoError(t, err)
	assert.Equal(t, CompletionUnavailableResponse, out.Response)
	assert.Equal(t, CompletionUnavailableResponse, drainStream(t, stream))
}

func drainStream(t *testing.T, stream TextStream) string {
	t.Helper()
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String()
		}
		require.NoError(t, err)
		sb.WriteString(chunk)
	}
}

func TestTrimHistory(t *testing.T) {
	history := []openai.Message{
		{Role: openai.RoleUser, Content: strings.Repeat("old words ", 50)},
		{Role: openai.RoleAssistant, Content: "short answer"},
		{Role: openai.RoleUser, Content: "recent question"},
	}

	// A generous budget keeps everything.
	assert.Len(t, trimHistory(history, 10000), 3)

	// A tiny budget drops the oldest turns first.
	trimmed := trimHistory(history, 10)
	require.Len(t, trimmed, 1)
	assert.Equal(t, "recent question", trimmed[0].Content)

	assert.Nil(t, trimHistory(history, 0))
	assert.Nil(t, trimHistory(nil, 100))
}

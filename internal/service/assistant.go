package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/deskmate-ai/deskmate/internal/corpus"
	"github.com/deskmate-ai/deskmate/internal/domain"
	"github.com/deskmate-ai/deskmate/internal/openai"
	"github.com/deskmate-ai/deskmate/internal/telemetry"
)

const (
	// NoKnowledgeResponse is returned when retrieval found nothing usable.
	NoKnowledgeResponse = "I could not find anything in the knowledge base for your question. Please rephrase it, or open a ticket so a colleague can help."
	// CompletionUnavailableResponse is returned when the completion
	// provider stays unavailable after retries.
	CompletionUnavailableResponse = "I found relevant knowledge but could not generate an answer right now. Please try again in a moment."

	defaultTopResults = 5
)

// TextStream is a cancellable, ordered, finite sequence of text increments.
// Recv returns io.EOF after the final chunk.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionClient defines the interface for chat completions
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (string, error)
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (TextStream, error)
}

// NewCompletionClient adapts the OpenAI client to the CompletionClient interface.
func NewCompletionClient(client *openai.Client) CompletionClient {
	return &openAICompletion{client: client}
}

type openAICompletion struct {
	client *openai.Client
}

func (a *openAICompletion) Complete(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (string, error) {
	return a.client.Complete(ctx, systemPrompt, userPrompt, history)
}

func (a *openAICompletion) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, history []openai.Message) (TextStream, error) {
	stream, err := a.client.CompleteStream(ctx, systemPrompt, userPrompt, history)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// AskInput is one user question plus prior conversation turns.
type AskInput struct {
	Query   string
	History []openai.Message
}

// SourceRef identifies a knowledge item that contributed to an answer.
type SourceRef struct {
	ID         string            `json:"id"`
	SourceType domain.SourceType `json:"source_type"`
	Title      string            `json:"title"`
}

// AskOutput is the assistant's answer with provenance.
type AskOutput struct {
	Response   string
	Specialist domain.Specialist
	Sources    []SourceRef
	FromCache  bool
	Structured bool
	// TopScore is the best boosted score among the retrieved sources,
	// used downstream to gate the positive-feedback cache path.
	TopScore float32
}

// Assistant wires the full query pipeline: route, cache, retrieve,
// assemble, complete. All shared state (corpus, cache, learner counters)
// is passed in at construction time.
type Assistant struct {
	router     *Router
	cache      *SemanticCache
	engine     *RetrievalEngine
	assembler  *ContextAssembler
	completion CompletionClient
	corpus     *corpus.Corpus
	topResults int
}

// NewAssistant creates an Assistant over the given pipeline components.
func NewAssistant(router *Router, cache *SemanticCache, engine *RetrievalEngine, assembler *ContextAssembler, completion CompletionClient, c *corpus.Corpus) *Assistant {
	return &Assistant{
		router:     router,
		cache:      cache,
		engine:     engine,
		assembler:  assembler,
		completion: completion,
		corpus:     c,
		topResults: defaultTopResults,
	}
}

// Ask answers one user question. A response is always returned for valid
// input: provider failures degrade to keyword-only retrieval or to a
// user-visible fallback message, never to a raw error.
func (a *Assistant) Ask(ctx context.Context, input AskInput) (*AskOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	specialist := a.router.Classify(query)
	ctx, span := telemetry.StartSpan(ctx, "Assistant.Ask", telemetry.SpanAttributes{
		Specialist: string(specialist),
		Operation:  "ask",
	})
	defer span.End()

	route := a.router.Dispatch(query, specialist)

	// A specialist's structured lookup takes precedence over retrieval.
	if route.StructuredAnswer != "" {
		return &AskOutput{
			Response:   route.StructuredAnswer,
			Specialist: specialist,
			Structured: true,
			TopScore:   1,
		}, nil
	}

	// Exact fingerprint hits are free; the embedding is computed only on
	// a miss and then shared by the semantic scan and retrieval.
	if entry := a.cache.LookupExact(query, specialist); entry != nil {
		return &AskOutput{
			Response:   entry.Response,
			Specialist: specialist,
			FromCache:  true,
			TopScore:   1,
		}, nil
	}

	queryEmbedding := a.engine.QueryEmbedding(ctx, query)
	if entry := a.cache.LookupSemantic(queryEmbedding, specialist); entry != nil {
		return &AskOutput{
			Response:   entry.Response,
			Specialist: specialist,
			FromCache:  true,
			TopScore:   1,
		}, nil
	}

	perSource, err := a.engine.SearchWithEmbedding(ctx, query, queryEmbedding, route.Sources, a.topResults)
	if err != nil {
		return nil, err
	}

	// Ticket references are resolved independently of classification and
	// merged ahead of generic results.
	if ticketID, ok := a.router.DetectTicketReference(query); ok {
		a.mergeTicketContext(perSource, ticketID, queryEmbedding)
	}

	contextBlock, usedIDs := a.assembler.BuildContext(perSource)
	if len(usedIDs) == 0 {
		return &AskOutput{
			Response:   NoKnowledgeResponse,
			Specialist: specialist,
		}, nil
	}

	output := &AskOutput{
		Specialist: specialist,
		Sources:    a.sourceRefs(perSource, usedIDs),
		TopScore:   topBoostedScore(perSource),
	}

	answer, err := a.completion.Complete(ctx, route.SystemPrompt, buildUserPrompt(contextBlock, query), trimHistory(input.History, historyTokenBudget))
	if err != nil {
		log.Printf("assistant: completion unavailable: %v", err)
		span.SetError(err)
		output.Response = CompletionUnavailableResponse
		return output, nil
	}
	output.Response = answer

	// First answer for this query: make it reusable for near-duplicates.
	if len(queryEmbedding) > 0 {
		a.cache.Store(query, queryEmbedding, answer, specialist)
	}

	return output, nil
}

// AskStream answers one user question as an ordered stream of text chunks.
// Cache hits, structured answers, and fallbacks produce a single-chunk
// stream; cancelling ctx releases the underlying provider connection.
func (a *Assistant) AskStream(ctx context.Context, input AskInput) (*AskOutput, TextStream, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, nil, domain.ErrEmptyQuery
	}

	specialist := a.router.Classify(query)
	route := a.router.Dispatch(query, specialist)

	if route.StructuredAnswer != "" {
		out := &AskOutput{Response: route.StructuredAnswer, Specialist: specialist, Structured: true, TopScore: 1}
		return out, newStaticStream(route.StructuredAnswer), nil
	}

	if entry := a.cache.LookupExact(query, specialist); entry != nil {
		out := &AskOutput{Response: entry.Response, Specialist: specialist, FromCache: true, TopScore: 1}
		return out, newStaticStream(entry.Response), nil
	}

	queryEmbedding := a.engine.QueryEmbedding(ctx, query)
	if entry := a.cache.LookupSemantic(queryEmbedding, specialist); entry != nil {
		out := &AskOutput{Response: entry.Response, Specialist: specialist, FromCache: true, TopScore: 1}
		return out, newStaticStream(entry.Response), nil
	}

	perSource, err := a.engine.SearchWithEmbedding(ctx, query, queryEmbedding, route.Sources, a.topResults)
	if err != nil {
		return nil, nil, err
	}
	if ticketID, ok := a.router.DetectTicketReference(query); ok {
		a.mergeTicketContext(perSource, ticketID, queryEmbedding)
	}

	contextBlock, usedIDs := a.assembler.BuildContext(perSource)
	if len(usedIDs) == 0 {
		out := &AskOutput{Response: NoKnowledgeResponse, Specialist: specialist}
		return out, newStaticStream(NoKnowledgeResponse), nil
	}

	output := &AskOutput{
		Specialist: specialist,
		Sources:    a.sourceRefs(perSource, usedIDs),
		TopScore:   topBoostedScore(perSource),
	}

	stream, err := a.completion.CompleteStream(ctx, route.SystemPrompt, buildUserPrompt(contextBlock, query), trimHistory(input.History, historyTokenBudget))
	if err != nil {
		log.Printf("assistant: streaming completion unavailable: %v", err)
		output.Response = CompletionUnavailableResponse
		return output, newStaticStream(CompletionUnavailableResponse), nil
	}

	return output, stream, nil
}

// mergeTicketContext prepends the referenced ticket and similar solved
// tickets to the ticket-solution results.
func (a *Assistant) mergeTicketContext(perSource map[domain.SourceType][]*domain.SearchResult, ticketID string, queryEmbedding []float32) {
	var merged []*domain.SearchResult
	seen := make(map[string]bool)

	if item, err := a.corpus.GetByID(domain.SourceTypeTicketSolution, ticketID); err == nil {
		direct := &domain.SearchResult{
			Item:       item,
			MatchedVia: domain.MatchPathKeyword,
			RawScore:   keywordMatchScore,
		}
		direct.ApplyBoost(a.engine.boostFactor)
		merged = append(merged, direct)
		seen[item.ID] = true
	} else if !errors.Is(err, domain.ErrItemNotFound) {
		log.Printf("assistant: ticket lookup %s skipped: %v", ticketID, err)
	}

	similar, err := a.engine.searchSource(domain.SourceTypeTicketSolution, nil, queryEmbedding, a.topResults)
	if err == nil {
		for _, result := range similar {
			if !seen[result.Item.ID] {
				merged = append(merged, result)
				seen[result.Item.ID] = true
			}
		}
	}

	for _, result := range perSource[domain.SourceTypeTicketSolution] {
		if !seen[result.Item.ID] {
			merged = append(merged, result)
			seen[result.Item.ID] = true
		}
	}

	if len(merged) > 0 {
		perSource[domain.SourceTypeTicketSolution] = merged
	}
}

func (a *Assistant) sourceRefs(perSource map[domain.SourceType][]*domain.SearchResult, usedIDs []string) []SourceRef {
	byID := make(map[string]*domain.KnowledgeItem)
	for _, results := range perSource {
		for _, result := range results {
			byID[result.Item.ID] = result.Item
		}
	}

	refs := make([]SourceRef, 0, len(usedIDs))
	for _, id := range usedIDs {
		item, ok := byID[id]
		if !ok {
			continue
		}
		refs = append(refs, SourceRef{ID: item.ID, SourceType: item.SourceType, Title: item.Title})
	}
	return refs
}

func topBoostedScore(perSource map[domain.SourceType][]*domain.SearchResult) float32 {
	var top float32
	for _, results := range perSource {
		for _, result := range results {
			if result.BoostedScore > top {
				top = result.BoostedScore
			}
		}
	}
	return top
}

// staticStream yields one chunk and then io.EOF.
type staticStream struct {
	text string
	done bool
}

func newStaticStream(text string) *staticStream {
	return &staticStream{text: text}
}

func (s *staticStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *staticStream) Close() error { return nil }

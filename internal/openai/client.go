package openai

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the OpenAI model used for completions
	DefaultChatModel = openai.GPT4oMini

	defaultTimeout        = 30 * time.Second
	defaultRetries        = 2
	defaultInitialBackoff = 500 * time.Millisecond
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrNoCompletion is returned when the API returns no choices
	ErrNoCompletion = errors.New("no completion choices returned")
)

// Message is a single turn of chat history passed to the completion call.
type Message struct {
	Role    string
	Content string
}

// Chat message roles accepted by Complete and CompleteStream.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// API defines the subset of the OpenAI client the adapter needs.
type API interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client wraps the OpenAI API client with timeouts, bounded retries, and
// dimension checking. Embedding and completion requests are read-only on the
// remote side, so retrying a timed-out attempt is safe.
type Client struct {
	api            API
	chatModel      string
	embeddingModel openai.EmbeddingModel
	dimensions     int
	timeout        time.Duration
	retries        int
	initialBackoff time.Duration
}

type Config struct {
	APIKey              string
	ChatModel           string
	EmbeddingModel      string
	EmbeddingDimensions int
	Timeout             time.Duration
	Retries             int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	embeddingModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Client{
		api:            openai.NewClient(cfg.APIKey),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dimensions:     dimensions,
		timeout:        timeout,
		retries:        retries,
		initialBackoff: defaultInitialBackoff,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	var embedding []float32
	err := c.withRetry(ctx, func(attemptCtx context.Context) error {
		resp, err := c.api.CreateEmbeddings(attemptCtx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: c.embeddingModel,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return errors.New("no embedding data returned")
		}
		embedding = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(embedding) != c.dimensions {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// Complete runs a chat completion with the given system prompt, user prompt,
// and prior history, and returns the assistant text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	if userPrompt == "" {
		return "", ErrEmptyText
	}

	req := c.buildChatRequest(systemPrompt, userPrompt, history)

	var answer string
	err := c.withRetry(ctx, func(attemptCtx context.Context) error {
		resp, err := c.api.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrNoCompletion
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return answer, nil
}

// CompletionStream is an ordered, finite sequence of text increments.
// Recv returns io.EOF after the final chunk; Close releases the underlying
// connection and may be called at any point.
type CompletionStream struct {
	inner *openai.ChatCompletionStream
}

// Recv returns the next text chunk, or io.EOF at end of stream.
func (s *CompletionStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

// Close releases the stream's network resources.
func (s *CompletionStream) Close() error {
	return s.inner.Close()
}

// CompleteStream starts a streaming chat completion. The caller owns the
// returned stream and must Close it; cancelling ctx terminates the stream.
// The stream open itself is not retried: a caller that sees a transient
// error can reissue the request.
func (c *Client) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, history []Message) (*CompletionStream, error) {
	if userPrompt == "" {
		return nil, ErrEmptyText
	}

	req := c.buildChatRequest(systemPrompt, userPrompt, history)
	req.Stream = true

	inner, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &CompletionStream{inner: inner}, nil
}

func (c *Client) buildChatRequest(systemPrompt, userPrompt string, history []Message) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    RoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    RoleUser,
		Content: userPrompt,
	})

	return openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
	}
}

// withRetry runs op with a per-attempt timeout, retrying transient failures
// with exponential backoff up to the configured budget.
func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := c.initialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}

	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = op(attemptCtx)
		cancel()

		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

// IsTransient reports whether err is a retryable provider failure (timeout,
// rate limit, server error) as opposed to a permanent configuration error
// such as an invalid API key.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	return false
}

var _ io.Closer = (*CompletionStream)(nil)

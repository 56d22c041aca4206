package upstream

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	foyerotel "github.com/foyerhq/foyer/internal/otel"
)

var tracer = foyerotel.Tracer("github.com/foyerhq/foyer/internal/upstream")

// Client implements Provider against an OpenAI-compatible chat
// completion API.
type Client struct {
	api     *openai.Client
	timeout time.Duration
}

// NewClient creates a client for the API at baseURL. baseURL must
// include the version path segment (e.g. "https://api.openai.com/v1");
// when empty the library default is used. A non-positive timeout falls
// back to DefaultTimeout.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{api: openai.NewClientWithConfig(config), timeout: timeout}
}

// newClientWithAPI creates a client around a pre-configured API client.
// Used in tests to inject httptest-based clients.
func newClientWithAPI(api *openai.Client, timeout time.Duration) *Client {
	return &Client{api: api, timeout: timeout}
}

// Name returns the backend identifier.
func (c *Client) Name() string {
	return "openai"
}

// Generate sends a chat completion request upstream.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			foyerotel.GenAISystem.String(c.Name()),
			foyerotel.GenAIRequestModel.String(req.Model),
			foyerotel.GenAIRequestTemperature.Float64(req.Temperature),
			foyerotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("upstream api call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("upstream api call: no choices returned")
	}

	span.SetAttributes(
		foyerotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		foyerotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		foyerotel.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)),
		foyerotel.GenAIResponseID.String(resp.ID),
	)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}

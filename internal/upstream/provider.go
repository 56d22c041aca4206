// Package upstream calls the generation API that produces assistant
// turns. The server treats it as slow, rate-limited, and fallible; the
// gateway's admission control exists to protect it.
package upstream

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 120 * time.Second

// Provider is the interface all generation backends implement.
type Provider interface {
	// Name returns the backend identifier (e.g. "openai").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Package testutil provides shared test helpers and mocks for Foyer tests.
package testutil

import (
	"context"
	"sync"

	"github.com/foyerhq/foyer/internal/upstream"
)

// DefaultReply is what an unscripted MockProvider answers with.
var DefaultReply = upstream.Response{
	Content:      "Hello! How can I help?",
	FinishReason: "stop",
	InputTokens:  12,
	OutputTokens: 7,
	Model:        "gpt-4o-mini",
}

// MockProvider is an in-process upstream.Provider for handler tests. It
// records every request it sees and serves scripted replies in order,
// so tests can assert on history windowing without a network hop.
type MockProvider struct {
	mu      sync.Mutex
	calls   []upstream.Request
	replies []upstream.Response
	err     error
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// Reply appends scripted responses; once they run out the last one
// repeats. With no script, DefaultReply is served.
func (m *MockProvider) Reply(responses ...upstream.Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, responses...)
	return m
}

// Fail makes every later Generate return err. Fail(nil) clears it.
func (m *MockProvider) Fail(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns a copy of the requests seen so far.
func (m *MockProvider) Calls() []upstream.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]upstream.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *req)
	if m.err != nil {
		return nil, m.err
	}
	reply := DefaultReply
	if n := len(m.replies); n > 0 {
		i := len(m.calls) - 1
		if i >= n {
			i = n - 1
		}
		reply = m.replies[i]
	}
	return &reply, nil
}

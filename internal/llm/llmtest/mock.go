// Package llmtest provides test doubles for llm.Client.
package llmtest

import (
	"context"
	"sync"

	"github.com/jonathan/grant-matcher/internal/llm"
)

// DefaultJSON is returned by GenerateJSON when no func is set.
const DefaultJSON = `{"score": 72, "rationale": "Mock rationale", "strengths": ["mock"], "gaps": []}`

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	GenerateJSONFunc   func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	GenerateStreamFunc func(ctx context.Context, prompt string, tier llm.ModelTier) (<-chan llm.StreamChunk, error)
	EmbedFunc          func(ctx context.Context, text string) ([]float32, error)
	CloseFunc          func() error

	mu      sync.Mutex
	prompts []string
}

func (m *MockLLMClient) record(prompt string) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
}

// Prompts returns every prompt passed to a generate method, in call order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns the number of generate calls made.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *MockLLMClient) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	m.record(prompt)
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, tier)
	}
	return DefaultJSON, nil
}

func (m *MockLLMClient) GenerateStream(ctx context.Context, prompt string, tier llm.ModelTier) (<-chan llm.StreamChunk, error) {
	m.record(prompt)
	if m.GenerateStreamFunc != nil {
		return m.GenerateStreamFunc(ctx, prompt, tier)
	}
	return StreamOf(DefaultJSON[:20], DefaultJSON[20:]), nil
}

func (m *MockLLMClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockLLMClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// StreamOf returns a closed, buffered stream that yields tokens followed by a Done chunk.
func StreamOf(tokens ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(tokens)+1)
	for _, t := range tokens {
		ch <- llm.StreamChunk{Token: t}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch
}

// FailingStream returns a stream that yields tokens and then fails with err.
func FailingStream(err error, tokens ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(tokens)+1)
	for _, t := range tokens {
		ch <- llm.StreamChunk{Token: t}
	}
	ch <- llm.StreamChunk{Error: err, Done: true}
	close(ch)
	return ch
}

var _ llm.Client = (*MockLLMClient)(nil)

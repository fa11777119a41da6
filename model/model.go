package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Request captures one normalized completion request. Schema, when set, is a
// minimal JSON-Schema-like map describing the structured output the caller
// expects; adapters without native structured-output support fold it into the
// system text.
type Request struct {
	System string         `json:"system,omitempty"`
	Prompt string         `json:"prompt"`
	Schema map[string]any `json:"schema,omitempty"`
}

// Response is the provider's completion.
type Response struct {
	Text string `json:"text"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsSchema bool   `json:"supports_schema"`
}

// Provider is the single interface the router and combiner require to drive
// generation. Implementations must respect context cancellation and be safe
// for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the provider implementation.
	Info() Info
}

type rule struct {
	substr   string
	response string
}

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Responses are selected by substring match against the prompt in
// registration order, falling back to a default.
type MockProvider struct {
	mu       sync.Mutex
	info     Info
	rules    []rule
	fallback string
	err      error
	calls    int
}

// NewMockProvider constructs a MockProvider with schema support flagged.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		info:     Info{Name: "mock", Provider: "mock", SupportsSchema: true},
		fallback: "mock response",
	}
}

// AddResponse registers a canned completion returned when the prompt contains substr.
func (m *MockProvider) AddResponse(substr, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{substr: substr, response: response})
}

// SetDefault replaces the fallback completion used when no rule matches.
func (m *MockProvider) SetDefault(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
}

// FailWith makes every subsequent Complete call return err. Pass nil to clear.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Complete has been invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return Response{}, fmt.Errorf("mock provider: %w", m.err)
	}
	for _, r := range m.rules {
		if strings.Contains(req.Prompt, r.substr) {
			return Response{Text: r.response}, nil
		}
	}
	return Response{Text: m.fallback}, nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }

// Package llm provides clients for the external text-generation
// collaborator. Every engine that consumes a client must keep working
// when the client is nil or fails; the deterministic fallbacks own that
// path.
package llm

import (
	"context"
)

// LLMClient is the text-generation collaborator: prompt in, text out.
// Use this interface for dependency injection to enable mocking in
// tests.
type LLMClient interface {
	// GenerateResponse generates a completion for the prompt. maxTokens
	// of zero means the provider default.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, maxTokens int) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure implementations satisfy LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*MockLLMClient)(nil)
)

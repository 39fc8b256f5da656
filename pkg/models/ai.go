// Package models contains shared data models used across the FinScan codebase.
package models

import (
	"context"
	"errors"
)

// Sentinel errors returned by AIProvider implementations.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// AIProvider is the core interface that all LLM integrations must implement.
// Never call specific AI providers directly; always inject this interface.
type AIProvider interface {
	// Complete sends one system+user exchange and returns the model's text reply.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string
	// Model returns the model the provider is configured to call.
	Model() string
}

// CompletionRequest is the input to a single LLM call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// DefaultMaxTokens applies when a CompletionRequest leaves MaxTokens unset.
const DefaultMaxTokens = 2048

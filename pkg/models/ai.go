// Package models contains shared data models used across the Agent Score codebase.
package models

import "context"

// AIProvider is the core interface that all AI integrations must implement.
// Callers depend on this interface, never on a concrete provider.
type AIProvider interface {
	// Complete sends one prompt and returns the model's raw text output.
	// The text is not guaranteed to be JSON.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CheckConfig reports missing credentials or settings without any network call.
	CheckConfig() error
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
	// Model returns the model identifier requests are sent to.
	Model() string
}

// CompletionRequest is the input to a single text-generation call.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

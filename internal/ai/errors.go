package ai

import "github.com/kiranshivaraju/agentscore/internal/ai/transport"

var (
	ErrProviderUnavailable = transport.ErrProviderUnavailable
	ErrInferenceTimeout    = transport.ErrInferenceTimeout
	ErrInvalidResponse     = transport.ErrInvalidResponse
	// ErrNotConfigured marks missing or rejected credentials. The batch runner
	// treats it as a ConfigurationError and stops the run.
	ErrNotConfigured = transport.ErrNotConfigured
)

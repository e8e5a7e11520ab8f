package vllm

import (
	"time"

	"github.com/kiranshivaraju/agentscore/internal/ai/openai"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// Provider implements models.AIProvider using vLLM's OpenAI-compatible server.
type Provider struct {
	*openai.Provider
}

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *Provider {
	return &Provider{
		Provider: openai.NewCompatible("vllm", cfg.BaseURL, "/v1/chat/completions", "", cfg.Model, timeout),
	}
}

var _ models.AIProvider = (*Provider)(nil)

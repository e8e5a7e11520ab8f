package ai

import (
	"fmt"

	"github.com/kiranshivaraju/agentscore/internal/ai/anthropic"
	"github.com/kiranshivaraju/agentscore/internal/ai/ollama"
	"github.com/kiranshivaraju/agentscore/internal/ai/openai"
	"github.com/kiranshivaraju/agentscore/internal/ai/vllm"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup. Credentials are not checked here; callers
// use CheckConfig before spending work.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}

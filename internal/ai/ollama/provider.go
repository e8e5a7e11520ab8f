package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/agentscore/internal/ai/transport"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// Provider implements models.AIProvider using Ollama.
type Provider struct {
	cfg    config.OllamaConfig
	client *resty.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: transport.NewClient(cfg.BaseURL, timeout)}
}

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) CheckConfig() error {
	if p.cfg.Model == "" {
		return fmt.Errorf("%w: OLLAMA_MODEL is not set", transport.ErrNotConfigured)
	}
	return nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:    p.cfg.Model,
			Messages: messages,
			Stream:   false,
			Format:   "json",
			Options:  chatOptions{NumPredict: req.MaxTokens, Temperature: 0.2},
		}).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return "", transport.RequestError(p.Name(), resp, err)
	}
	if err := transport.CheckStatus(p.Name(), resp); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %w: %s", transport.ErrInvalidResponse, out.Error)
	}
	if out.Message.Content == "" {
		return "", transport.Empty(p.Name())
	}
	return out.Message.Content, nil
}

var _ models.AIProvider = (*Provider)(nil)

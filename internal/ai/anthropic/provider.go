package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/agentscore/internal/ai/transport"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

const apiVersion = "2023-06-01"

// Provider implements models.AIProvider using the Anthropic messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *resty.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	client := transport.NewClient(cfg.BaseURL, timeout)
	client.SetHeader("anthropic-version", apiVersion)
	if cfg.APIKey != "" {
		client.SetHeader("x-api-key", cfg.APIKey)
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) CheckConfig() error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", transport.ErrNotConfigured)
	}
	if p.cfg.Model == "" {
		return fmt.Errorf("%w: ANTHROPIC_MODEL is not set", transport.ErrNotConfigured)
	}
	return nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var out messagesResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:     p.cfg.Model,
			MaxTokens: maxTokens,
			System:    req.System,
			Messages:  []message{{Role: "user", Content: req.Prompt}},
		}).
		SetResult(&out).
		Post("/v1/messages")
	if err != nil {
		return "", transport.RequestError(p.Name(), resp, err)
	}
	if err := transport.CheckStatus(p.Name(), resp); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("anthropic: %w: %s", transport.ErrInvalidResponse, out.Error.Message)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", transport.Empty(p.Name())
	}
	return sb.String(), nil
}

var _ models.AIProvider = (*Provider)(nil)

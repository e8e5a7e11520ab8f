package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/agentscore/internal/ai/transport"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// Provider implements models.AIProvider using the OpenAI chat completions API.
// Any OpenAI-compatible server can be targeted through NewCompatible.
type Provider struct {
	name       string
	model      string
	apiKey     string
	keyEnv     string
	path       string
	client     *resty.Client
	requireKey bool
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	p := NewCompatible("openai", cfg.BaseURL, "/chat/completions", cfg.APIKey, cfg.Model, timeout)
	p.requireKey = true
	p.keyEnv = "OPENAI_API_KEY"
	return p
}

// NewCompatible builds a provider for a server speaking the OpenAI chat
// completions protocol at baseURL+path. apiKey may be empty.
func NewCompatible(name, baseURL, path, apiKey, model string, timeout time.Duration) *Provider {
	client := transport.NewClient(baseURL, timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Provider{
		name:   name,
		model:  model,
		apiKey: apiKey,
		path:   path,
		client: client,
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) CheckConfig() error {
	if p.requireKey && p.apiKey == "" {
		return fmt.Errorf("%w: %s is not set", transport.ErrNotConfigured, p.keyEnv)
	}
	if p.model == "" {
		return fmt.Errorf("%w: %s model is not set", transport.ErrNotConfigured, p.name)
	}
	return nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: 0.2,
	}
	if p.name == "openai" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(p.path)
	if err != nil {
		return "", transport.RequestError(p.name, resp, err)
	}
	if err := transport.CheckStatus(p.name, resp); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s: %w: %s", p.name, transport.ErrInvalidResponse, out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", transport.Empty(p.name)
	}
	return out.Choices[0].Message.Content, nil
}

var _ models.AIProvider = (*Provider)(nil)

package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentscore/internal/ai"
	"github.com/kiranshivaraju/agentscore/internal/ai/anthropic"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_MessagesAPI(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL, APIKey: "sk-ant", Model: "claude"}, time.Second)
	out, err := p.Complete(context.Background(), models.CompletionRequest{System: "sys", Prompt: "score", MaxTokens: 800})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
	assert.Equal(t, "sys", got["system"])
	assert.Equal(t, float64(800), got["max_tokens"])
}

func TestComplete_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL, APIKey: "bad", Model: "claude"}, time.Second)
	_, err := p.Complete(context.Background(), models.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrNotConfigured)
}

func TestComplete_NoTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	p := anthropic.NewProvider(config.AnthropicConfig{BaseURL: srv.URL, APIKey: "k", Model: "claude"}, time.Second)
	_, err := p.Complete(context.Background(), models.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
}

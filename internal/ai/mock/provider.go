package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/kiranshivaraju/agentscore/internal/ai"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// ValidScoreJSON is a well-formed score object carrying every required key.
const ValidScoreJSON = `{"complianceRisk":12,"sentimentScore":71,"resolutionQuality":80,"overallScore":76,` +
	`"confidence":64,"strengths":["clear greeting"],"weaknesses":["long holds"],"patterns":["repeat callers"]}`

// ErrScriptExhausted is returned once a scripted provider has no replies left.
var ErrScriptExhausted = errors.New("mock: no scripted reply left")

// Reply is one scripted outcome of Complete.
type Reply struct {
	Text string
	Err  error
}

// MockProvider satisfies models.AIProvider for testing. It records every
// request it receives.
type MockProvider struct {
	Name_        string
	Model_       string
	ConfigErr    error
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (string, error)

	mu       sync.Mutex
	requests []models.CompletionRequest
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) CheckConfig() error { return m.ConfigErr }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

// Calls returns how many times Complete has been invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []models.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewMockProvider returns a MockProvider that always answers with ValidScoreJSON.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return ValidScoreJSON, nil
		},
	}
}

// NewScriptedProvider returns a MockProvider that plays replies in order and
// fails with ErrScriptExhausted afterwards.
func NewScriptedProvider(replies ...Reply) *MockProvider {
	var (
		mu   sync.Mutex
		next int
	)
	return &MockProvider{
		Name_:  "mock-scripted",
		Model_: "mock-v1",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if next >= len(replies) {
				return "", ErrScriptExhausted
			}
			r := replies[next]
			next++
			return r.Text, r.Err
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// NewUnconfiguredProvider returns a MockProvider whose CheckConfig fails.
func NewUnconfiguredProvider() *MockProvider {
	p := NewMockProvider()
	p.Name_ = "mock-unconfigured"
	p.ConfigErr = ai.ErrNotConfigured
	return p
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)

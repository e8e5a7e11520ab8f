// Package transport holds the HTTP plumbing shared by the AI providers:
// a preconfigured resty client and the mapping of transport failures onto
// the provider-neutral sentinel errors.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

// Sentinel errors for AI provider failures.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrNotConfigured       = errors.New("ai provider not configured")
)

const maxErrorBody = 200

// NewClient returns a resty client rooted at baseURL with JSON defaults.
func NewClient(baseURL string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", provider, ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%s: %w: %v", provider, ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%s: %w: %v", provider, ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%s: %w: %v", provider, ErrProviderUnavailable, err)
}

// RequestError maps an error returned by resty. A response that arrived
// with a success status but could not be decoded is an invalid response;
// anything else is a transport failure.
func RequestError(provider string, resp *resty.Response, err error) error {
	if resp != nil && resp.RawResponse != nil && resp.IsSuccess() {
		return fmt.Errorf("%s: %w: %v", provider, ErrInvalidResponse, err)
	}
	return ClassifyError(provider, err)
}

// CheckStatus maps a non-2xx response to a sentinel error. It returns nil for
// success statuses.
func CheckStatus(provider string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	body := truncate(strings.TrimSpace(string(resp.Body())), maxErrorBody)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w: status %d: %s", provider, ErrNotConfigured, code, body)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w: status %d", provider, ErrInferenceTimeout, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s: %w: status %d: %s", provider, ErrProviderUnavailable, code, body)
	default:
		return fmt.Errorf("%s: %w: status %d: %s", provider, ErrInvalidResponse, code, body)
	}
}

// Empty reports a response that decoded but carried no text.
func Empty(provider string) error {
	return fmt.Errorf("%s: %w: empty completion", provider, ErrInvalidResponse)
}

// truncate shortens s to at most maxBytes without splitting a UTF-8 rune.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

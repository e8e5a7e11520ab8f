package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type contextKey struct{}

var callerKey contextKey

// Caller is the authenticated API key behind a request.
type Caller struct {
	AccountID uuid.UUID
	KeyID     uuid.UUID
	KeyPrefix string
	Scopes    []string
}

// HasScope reports whether the key was granted scope. A write key may also
// read.
func (c Caller) HasScope(scope string) bool {
	if slices.Contains(c.Scopes, scope) {
		return true
	}
	return scope == ScopeRead && slices.Contains(c.Scopes, ScopeWrite)
}

// WithCaller attaches the authenticated caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller set by Authenticate.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// SetAccountID attaches a caller that carries only an account.
func SetAccountID(ctx context.Context, id uuid.UUID) context.Context {
	c, _ := CallerFrom(ctx)
	c.AccountID = id
	return WithCaller(ctx, c)
}

// GetAccountID returns the account of the authenticated caller.
func GetAccountID(r *http.Request) (uuid.UUID, bool) {
	c, ok := CallerFrom(r.Context())
	if !ok || c.AccountID == uuid.Nil {
		return uuid.Nil, false
	}
	return c.AccountID, true
}

// WithKeyPrefix sets the API key prefix the rate limiter buckets on.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	c, _ := CallerFrom(ctx)
	c.KeyPrefix = prefix
	return WithCaller(ctx, c)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	c, ok := CallerFrom(r.Context())
	if !ok || c.KeyPrefix == "" {
		return "", false
	}
	return c.KeyPrefix, true
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/api/response"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/pkg/models"
)

// Scopes granted to API keys.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store store.IdentityStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.IdentityStore) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token against the stored bcrypt hashes
// and puts the owning account, key prefix and scopes on the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		prefix, ok := models.KeyPrefix(rawKey)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("look up api key", "key_prefix", prefix, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		key := matchKey(keys, rawKey)
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		go func(id uuid.UUID) {
			if err := a.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
				slog.Warn("update api key last used", "key_id", id, "error", err)
			}
		}(key.ID)

		r = r.WithContext(WithCaller(r.Context(), Caller{
			AccountID: key.AccountID,
			KeyID:     key.ID,
			KeyPrefix: prefix,
			Scopes:    key.Scopes,
		}))
		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := CallerFrom(r.Context()); ok && c.HasScope(scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// matchKey returns the candidate whose bcrypt hash matches rawKey. Several
// keys may share a prefix.
func matchKey(keys []*models.APIKey, rawKey string) *models.APIKey {
	for _, k := range keys {
		if k.Matches(rawKey) {
			return k
		}
	}
	return nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

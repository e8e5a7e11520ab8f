package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/agentscore/internal/api/response"
	"github.com/kiranshivaraju/agentscore/internal/cache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = 60 * time.Second
)

// RateLimit caps requests per API key per minute. Counters live in Redis so
// the cap holds across server instances.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	rejected       prometheus.Counter
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// CountRejections makes Limit increment c for every request it turns away.
func (rl *RateLimit) CountRejections(c prometheus.Counter) *RateLimit {
	rl.rejected = c
	return rl
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateWindow)
		if err != nil {
			// Fail open.
			slog.Warn("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			if rl.rejected != nil {
				rl.rejected.Inc()
			}
			response.TooManyRequests(w, rateWindow, "RATE_LIMIT_EXCEEDED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

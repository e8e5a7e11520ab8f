package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentscore/internal/cache"
)

// callsPerTask is the worst case number of model calls for one task.
const callsPerTask = 2

const quotaExpiry = 48 * time.Hour

// Quota enforces a per-account daily cap on model calls. Counters live in
// Redis so every server instance shares them.
type Quota struct {
	cache cache.Cache
	limit int
	now   func() time.Time
}

// NewQuota returns a Quota with the given daily limit. A limit of zero or
// less disables the cap.
func NewQuota(c cache.Cache, limit int) *Quota {
	return &Quota{cache: c, limit: limit, now: time.Now}
}

// Reservation is budget held for one run. Settle hands back what the run did
// not spend.
type Reservation struct {
	// Tasks is how many tasks the run may claim.
	Tasks int

	cache cache.Cache
	key   string
	held  int
}

// Reserve takes the worst case budget for take tasks off today's counter in
// one increment, then gives back whatever does not fit under the limit.
// Concurrent runs therefore never share the same remaining budget. It
// returns ErrQuotaExceeded if not even one task fits.
//
// On a cache error the reservation is unlimited and the error is returned
// alongside it so the caller can fail open.
func (q *Quota) Reserve(ctx context.Context, accountID uuid.UUID, take int) (*Reservation, error) {
	if q == nil || q.limit <= 0 || take <= 0 {
		return &Reservation{Tasks: take}, nil
	}

	key := cache.DailyQuotaKey(q.now(), accountID)
	want := take * callsPerTask
	total, err := q.cache.IncrByWithExpiry(ctx, key, int64(want), quotaExpiry)
	if err != nil {
		return &Reservation{Tasks: take}, fmt.Errorf("reserve quota: %w", err)
	}

	before := int(total) - want
	allowed := min(take, max(q.limit-before, 0)/callsPerTask)
	r := &Reservation{Tasks: allowed, cache: q.cache, key: key, held: want}
	if excess := (take - allowed) * callsPerTask; excess > 0 {
		if err := r.release(ctx, excess); err != nil {
			return r, err
		}
	}
	if allowed == 0 {
		return r, ErrQuotaExceeded
	}
	return r, nil
}

// Settle returns the unused part of the reservation after used model calls.
func (r *Reservation) Settle(ctx context.Context, used int) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.release(ctx, r.held-used)
}

func (r *Reservation) release(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if _, err := r.cache.IncrByWithExpiry(ctx, r.key, int64(-n), quotaExpiry); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	r.held -= n
	return nil
}

package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// DailyQuotaKey is the AI-call counter for one account on one UTC day.
func DailyQuotaKey(day time.Time, accountID uuid.UUID) string {
	return fmt.Sprintf("quota:ai:%s:%s", day.UTC().Format("2006-01-02"), accountID)
}

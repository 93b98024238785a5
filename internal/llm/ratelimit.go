package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows requestsPerMinute with a burst of up to a tenth of
// that, at least one.
func newRateLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRateLimit
	}
	burst := max(requestsPerMinute/10, 1)
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)
}

func waitForToken(ctx context.Context, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}

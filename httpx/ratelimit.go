package httpx

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outgoing attempts.
// Wait blocks until a token is available or ctx is done.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter returns a token bucket allowing rps attempts per second.
// It returns nil when rps is not positive, which disables limiting.
func NewRateLimiter(rps float64, burst int) RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

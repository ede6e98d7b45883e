package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type RetryConfig struct {
	// MaxAttempts includes the first attempt. Values <= 1 disable retries.
	MaxAttempts int

	// Methods eligible for retries. Empty means idempotent methods.
	Methods map[string]bool

	// StatusCodes eligible for retries. Empty means 408, 429 and 5xx gateway errors.
	StatusCodes map[int]bool

	// Backoff defaults to DefaultBackoff().
	Backoff Backoff

	// RespectRetryAfter uses Retry-After as the delay for 429/503 when present.
	RespectRetryAfter bool

	// MaxRetryAfter caps Retry-After. Zero means no cap.
	MaxRetryAfter time.Duration
}

// DefaultRetryConfig is a reasonable policy for callers that opt into retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Backoff:           DefaultBackoff(),
		RespectRetryAfter: true,
		MaxRetryAfter:     30 * time.Second,
	}
}

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Backoff interface {
	// Next returns the delay before retry number attempt (starting at 1).
	Next(attempt int) time.Duration
}

type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1
}

func DefaultBackoff() Backoff {
	return ExponentialBackoff{Base: 200 * time.Millisecond, Max: 3 * time.Second, Jitter: 0.2}
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	base, ceil := b.Base, b.Max
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if ceil <= 0 {
		ceil = 3 * time.Second
	}
	d := base
	for i := 1; i < attempt && d < ceil; i++ {
		d *= 2
	}
	d = min(d, ceil)

	j := min(b.Jitter, 1)
	if j <= 0 {
		return d
	}
	f := 1 + (rand.Float64()*2-1)*j
	return time.Duration(float64(d) * f)
}

func (c RetryConfig) attempts() int {
	return max(c.MaxAttempts, 1)
}

func (c RetryConfig) methodAllowed(method string) bool {
	if c.MaxAttempts <= 1 {
		return false
	}
	methods := c.Methods
	if len(methods) == 0 {
		methods = idempotentMethods
	}
	return methods[strings.ToUpper(strings.TrimSpace(method))]
}

func (c RetryConfig) statusAllowed(code int) bool {
	statuses := c.StatusCodes
	if len(statuses) == 0 {
		statuses = transientStatuses
	}
	return statuses[code]
}

// delay picks the wait before the next attempt, honoring Retry-After when configured.
func (c RetryConfig) delay(attempt int, resp *http.Response) time.Duration {
	b := c.Backoff
	if b == nil {
		b = DefaultBackoff()
	}
	wait := b.Next(attempt)
	if !c.RespectRetryAfter || resp == nil {
		return wait
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return wait
	}
	if ra, ok := parseRetryAfter(resp, time.Now()); ok {
		wait = ra
		if c.MaxRetryAfter > 0 && wait > c.MaxRetryAfter {
			wait = c.MaxRetryAfter
		}
	}
	return wait
}

func transientNetErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func parseRetryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

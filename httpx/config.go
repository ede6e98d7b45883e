package httpx

import (
	"net/http"
	"time"
)

// Config configures a Client. Use DefaultConfig() as a baseline.
type Config struct {
	// BaseURL is optional. If set, relative paths passed to NewRequest are resolved against it.
	BaseURL string

	// Timeout bounds a whole Do call including retries.
	// If the request context already has an earlier deadline, that one wins.
	Timeout time.Duration

	// Transport is the underlying RoundTripper. If nil, DefaultTransport() is used.
	Transport http.RoundTripper

	// DefaultHeaders are copied into every request (request headers win).
	DefaultHeaders http.Header

	UserAgent string

	// DefaultOrigin tags requests that were built without WithOrigin.
	DefaultOrigin string

	Retry RetryConfig

	// MaxErrorBodyBytes limits how many bytes DoStatus reads into Error.RawBody.
	MaxErrorBodyBytes int64

	RequestID RequestIDConfig

	// RateLimiter throttles every attempt when set.
	RateLimiter RateLimiter

	BeforeHooks []BeforeHook
	AfterHooks  []AfterHook
	Middleware  []Middleware
}

const DefaultMaxErrorBodyBytes int64 = 64 << 10

// DefaultConfig returns the baseline used by New. Retries are disabled.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		DefaultHeaders:    make(http.Header),
		DefaultOrigin:     OriginExternal,
		Retry:             RetryConfig{MaxAttempts: 1},
		MaxErrorBodyBytes: DefaultMaxErrorBodyBytes,
		RequestID:         DefaultRequestIDConfig(),
	}
}

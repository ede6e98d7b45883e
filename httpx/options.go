package httpx

import (
	"net/http"
	"time"
)

type Option interface{ apply(*Config) }

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

func WithBaseURL(baseURL string) Option {
	return optionFunc(func(c *Config) { c.BaseURL = baseURL })
}

func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.Timeout = d })
}

func WithTransport(rt http.RoundTripper) Option {
	return optionFunc(func(c *Config) { c.Transport = rt })
}

func WithDefaultHeader(key, value string) Option {
	return optionFunc(func(c *Config) {
		if c.DefaultHeaders == nil {
			c.DefaultHeaders = make(http.Header)
		}
		c.DefaultHeaders.Set(key, value)
	})
}

func WithUserAgent(ua string) Option {
	return optionFunc(func(c *Config) { c.UserAgent = ua })
}

// WithDefaultOrigin sets the origin of requests built without WithOrigin.
func WithDefaultOrigin(origin string) Option {
	return optionFunc(func(c *Config) { c.DefaultOrigin = origin })
}

func WithRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) { c.Retry = cfg })
}

func WithMaxErrorBodyBytes(n int64) Option {
	return optionFunc(func(c *Config) { c.MaxErrorBodyBytes = n })
}

func WithRequestID(cfg RequestIDConfig) Option {
	return optionFunc(func(c *Config) { c.RequestID = cfg })
}

func WithRateLimiter(rl RateLimiter) Option {
	return optionFunc(func(c *Config) { c.RateLimiter = rl })
}

func WithBeforeHook(h BeforeHook) Option {
	return optionFunc(func(c *Config) { c.BeforeHooks = append(c.BeforeHooks, h) })
}

// WithAfterHook adds an observer of every attempt, e.g. a metrics collector.
func WithAfterHook(h AfterHook) Option {
	return optionFunc(func(c *Config) { c.AfterHooks = append(c.AfterHooks, h) })
}

// WithMiddleware wraps the transport; the first middleware is outermost.
func WithMiddleware(mws ...Middleware) Option {
	return optionFunc(func(c *Config) { c.Middleware = append(c.Middleware, mws...) })
}

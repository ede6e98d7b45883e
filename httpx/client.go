package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	httpClient *http.Client
	baseURL    *url.URL

	timeout        time.Duration
	defaultHeaders http.Header
	userAgent      string
	defaultOrigin  string

	retry      RetryConfig
	maxErrBody int64
	requestID  RequestIDConfig

	rateLimiter RateLimiter
	before      []BeforeHook
	after       []AfterHook
}

// New constructs a Client from DefaultConfig() plus the provided options.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) (*Client, error) {
	var bu *url.URL
	if raw := strings.TrimSpace(cfg.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, &url.Error{Op: "parse", URL: raw, Err: errors.New("base url must be absolute")}
		}
		// Treat the base path as a prefix so "/items" resolves below it.
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		bu = u
	}

	rt := cfg.Transport
	if rt == nil {
		rt = DefaultTransport()
	}
	maxErrBody := cfg.MaxErrorBodyBytes
	if maxErrBody == 0 {
		maxErrBody = DefaultMaxErrorBodyBytes
	}
	rid := cfg.RequestID
	if rid.Header != "" && rid.New == nil {
		rid.New = DefaultRequestID
	}

	return &Client{
		httpClient:     &http.Client{Transport: chain(rt, cfg.Middleware)},
		baseURL:        bu,
		timeout:        cfg.Timeout,
		defaultHeaders: cfg.DefaultHeaders.Clone(),
		userAgent:      cfg.UserAgent,
		defaultOrigin:  cfg.DefaultOrigin,
		retry:          cfg.Retry,
		maxErrBody:     maxErrBody,
		requestID:      rid,
		rateLimiter:    cfg.RateLimiter,
		before:         append([]BeforeHook(nil), cfg.BeforeHooks...),
		after:          append([]AfterHook(nil), cfg.AfterHooks...),
	}, nil
}

// WithMiddleware wraps the underlying RoundTripper.
// Call this during initialization, before the client is used concurrently.
func (c *Client) WithMiddleware(mws ...Middleware) *Client {
	if len(mws) > 0 {
		c.httpClient.Transport = chain(c.httpClient.Transport, mws)
	}
	return c
}

// WithHooks adds hooks executed for every attempt.
func (c *Client) WithHooks(before []BeforeHook, after []AfterHook) *Client {
	c.before = append(c.before, before...)
	c.after = append(c.after, after...)
	return c
}

// MaxErrorBodyBytes is the read limit applied to error response bodies.
func (c *Client) MaxErrorBodyBytes() int64 { return c.maxErrBody }

// BaseURL returns the configured base URL, or nil.
func (c *Client) BaseURL() *url.URL {
	if c.baseURL == nil {
		return nil
	}
	u := *c.baseURL
	return &u
}

func (c *Client) resolveURL(path string, q url.Values) (*url.URL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("httpx: empty url/path")
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if c.baseURL == nil {
			return nil, errors.New("httpx: relative path requires BaseURL")
		}
		rel := *u
		rel.Path = strings.TrimPrefix(rel.Path, "/")
		u = c.baseURL.ResolveReference(&rel)
	}
	if len(q) > 0 {
		qq := u.Query()
		for k, vv := range q {
			for _, v := range vv {
				qq.Add(k, v)
			}
		}
		u.RawQuery = qq.Encode()
	}
	return u, nil
}

// deadline returns the earliest of the client timeout, the per-request timeout
// and the context deadline.
func (c *Client) deadline(ctx context.Context) (time.Time, bool) {
	var earliest time.Time
	now := time.Now()
	for _, d := range []time.Duration{c.timeout, requestTimeout(ctx)} {
		if d <= 0 {
			continue
		}
		if t := now.Add(d); earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if dl, ok := ctx.Deadline(); ok && (earliest.IsZero() || dl.Before(earliest)) {
		return dl, true
	}
	return earliest, !earliest.IsZero()
}

// Do executes req with retries (if configured), mirroring net/http semantics:
// transport errors are returned as error, non-2xx responses as resp with nil error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, false)
}

// DoStatus is like Do but converts non-2xx responses and transport failures into *Error.
// The error response body is read up to MaxErrorBodyBytes and closed.
func (c *Client) DoStatus(req *http.Request) (*http.Response, error) {
	return c.do(req, true)
}

func (c *Client) do(req *http.Request, statusAsError bool) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: nil request")
	}
	ctx := req.Context()
	if dl, ok := c.deadline(ctx); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, dl)
		// The body outlives do; cancel once the caller closes it.
		resp, err := c.attempt(req.Clone(ctx), statusAsError)
		if err != nil || resp == nil || resp.Body == nil {
			cancel()
			return resp, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.attempt(req.Clone(ctx), statusAsError)
}

func (c *Client) attempt(req *http.Request, statusAsError bool) (*http.Response, error) {
	ctx := req.Context()
	var (
		resp *http.Response
		err  error
	)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, c.transportError(req, err, statusAsError)
		}
		if n > 1 && req.GetBody != nil {
			body, gerr := req.GetBody()
			if gerr != nil {
				return nil, gerr
			}
			req.Body = body
		}
		if c.rateLimiter != nil {
			if werr := c.rateLimiter.Wait(ctx); werr != nil {
				return nil, c.transportError(req, werr, statusAsError)
			}
		}
		for _, h := range c.before {
			if h == nil {
				continue
			}
			if herr := h(req, n); herr != nil {
				return nil, herr
			}
		}

		start := time.Now()
		resp, err = c.httpClient.Do(req)
		dur := time.Since(start)
		for _, h := range c.after {
			if h != nil {
				h(req, resp, err, dur, n)
			}
		}

		if !c.shouldRetry(req, resp, err, n) {
			break
		}
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
		}
		if serr := sleep(ctx, c.retry.delay(n, resp)); serr != nil {
			return nil, c.transportError(req, serr, statusAsError)
		}
	}

	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, c.transportError(req, err, statusAsError)
	}
	if statusAsError && resp.StatusCode >= 400 {
		return c.statusError(req, resp)
	}
	return resp, nil
}

func (c *Client) shouldRetry(req *http.Request, resp *http.Response, err error, n int) bool {
	if n >= c.retry.attempts() || !c.retry.methodAllowed(req.Method) {
		return false
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return false
	}
	if err != nil {
		return transientNetErr(err)
	}
	return resp != nil && c.retry.statusAllowed(resp.StatusCode)
}

func (c *Client) transportError(req *http.Request, err error, wrap bool) error {
	if !wrap {
		return err
	}
	return &Error{
		Method:    req.Method,
		URL:       RedactURL(req.URL),
		Origin:    OriginOf(req),
		RequestID: c.requestIDOf(req, nil),
		Cause:     err,
	}
}

func (c *Client) statusError(req *http.Request, resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrBody))
	// Keep the captured bytes readable without holding the connection.
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	ra, _ := parseRetryAfter(resp, time.Now())
	return resp, &Error{
		Method:     req.Method,
		URL:        RedactURL(req.URL),
		Origin:     OriginOf(req),
		StatusCode: resp.StatusCode,
		RequestID:  c.requestIDOf(req, resp),
		RetryAfter: ra,
		RawBody:    raw,
		Cause:      errors.New(http.StatusText(resp.StatusCode)),
	}
}

// RequestIDOf prefers the id echoed by the server over the one that was sent.
func (c *Client) RequestIDOf(req *http.Request, resp *http.Response) string {
	return c.requestIDOf(req, resp)
}

func (c *Client) requestIDOf(req *http.Request, resp *http.Response) string {
	h := c.requestID.Header
	if h == "" {
		return ""
	}
	if resp != nil {
		if id := strings.TrimSpace(resp.Header.Get(h)); id != "" {
			return id
		}
	}
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.Header.Get(h))
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type RequestOption interface{ apply(*requestConfig) }

type requestOptionFunc func(*requestConfig)

func (f requestOptionFunc) apply(c *requestConfig) { f(c) }

type requestConfig struct {
	header http.Header
	query  url.Values
	origin string

	timeout time.Duration

	body        []byte
	hasBody     bool
	bodyErr     error
	contentType string

	bearerToken string
}

func WithHeader(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Set(key, value)
	})
}

func WithQueryParam(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.query == nil {
			c.query = make(url.Values)
		}
		c.query.Add(key, value)
	})
}

// WithOrigin tags the request as directed at our own backend (OriginInternal)
// or at a third party. The tag is read when a failure is classified.
func WithOrigin(origin string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.origin = origin })
}

// WithRequestTimeout sets a per-request deadline upper bound.
func WithRequestTimeout(d time.Duration) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.timeout = d })
}

// WithBodyBytes sets a replayable request body.
func WithBodyBytes(b []byte) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		c.body = append([]byte(nil), b...)
		c.hasBody = true
	})
}

// WithJSON sets the body to the JSON encoding of v.
func WithJSON(v any) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		b, err := json.Marshal(v)
		if err != nil {
			c.bodyErr = err
			return
		}
		c.body = b
		c.hasBody = true
		c.contentType = "application/json"
	})
}

func WithBearerToken(token string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.bearerToken = token })
}

type requestTimeoutKey struct{}

func requestTimeout(ctx context.Context) time.Duration {
	d, _ := ctx.Value(requestTimeoutKey{}).(time.Duration)
	return d
}

// NewRequest builds a request against the client's base URL. Bodies set through
// options are always replayable (req.GetBody is set).
func (c *Client) NewRequest(ctx context.Context, method, path string, opts ...RequestOption) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rc := requestConfig{}
	for _, o := range opts {
		if o != nil {
			o.apply(&rc)
		}
	}
	if rc.bodyErr != nil {
		return nil, rc.bodyErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := c.resolveURL(path, rc.query)
	if err != nil {
		return nil, err
	}
	if rc.timeout > 0 {
		ctx = context.WithValue(ctx, requestTimeoutKey{}, rc.timeout)
	}
	switch {
	case rc.origin != "":
		ctx = ContextWithOrigin(ctx, rc.origin)
	case c.defaultOrigin != "" && ctx.Value(originKey{}) == nil:
		ctx = ContextWithOrigin(ctx, c.defaultOrigin)
	}

	var body io.Reader
	if rc.hasBody {
		body = bytes.NewReader(rc.body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		return nil, err
	}

	for k, vv := range c.defaultHeaders {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for k, vv := range rc.header {
		req.Header[k] = append([]string(nil), vv...)
	}
	if rc.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", rc.contentType)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if rc.bearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+rc.bearerToken)
	}
	if h := c.requestID.Header; h != "" && req.Header.Get(h) == "" {
		if id := strings.TrimSpace(c.requestID.next(ctx)); id != "" {
			req.Header.Set(h, id)
		}
	}
	return req, nil
}

package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lgc202/apikit/apierr"
	"github.com/lgc202/apikit/credential"
	"github.com/lgc202/apikit/httpx"
)

const DefaultRefreshTimeout = 10 * time.Second

// ExpiredFunc is called when a request ends with EXPIRED_TOKEN.
type ExpiredFunc func(ctx context.Context, err *apierr.Error)

// RefreshObserver receives the outcome of every shared refresh call.
type RefreshObserver func(err error, dur time.Duration)

type Client struct {
	tr        *httpx.Client
	store     credential.Store
	refresher Refresher

	staticToken    string
	refreshTimeout time.Duration
	logger         *slog.Logger

	onExpired []ExpiredFunc
	observe   RefreshObserver

	flight singleflight.Group
}

type Option func(*Client)

// WithStore enables bearer injection for internal requests and 401 recovery.
func WithStore(s credential.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithRefresher replaces the default TokenRefresher.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithStaticToken sends a fixed bearer token on every request that has no
// Authorization header. Used for third-party APIs.
func WithStaticToken(token string) Option {
	return func(c *Client) { c.staticToken = token }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithOnExpired(fn ExpiredFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.onExpired = append(c.onExpired, fn)
		}
	}
}

func WithRefreshObserver(fn RefreshObserver) Option {
	return func(c *Client) { c.observe = fn }
}

// New wraps tr. Without a store, 401 responses always end with EXPIRED_TOKEN.
func New(tr *httpx.Client, opts ...Option) *Client {
	c := &Client{
		tr:             tr,
		refreshTimeout: DefaultRefreshTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.refresher == nil {
		c.refresher = NewTokenRefresher(tr, DefaultRefreshPath)
	}
	return c
}

// Transport returns the undecorated transport.
func (c *Client) Transport() *httpx.Client { return c.tr }

func (c *Client) NewRequest(ctx context.Context, method, path string, opts ...httpx.RequestOption) (*http.Request, error) {
	return c.tr.NewRequest(ctx, method, path, opts...)
}

func (c *Client) NewJSONRequest(ctx context.Context, method, path string, body any, opts ...httpx.RequestOption) (*http.Request, error) {
	return c.tr.NewJSONRequest(ctx, method, path, body, opts...)
}

// Get and the other helpers report a request that cannot be built the same
// way as Do reports a nil request.
func (c *Client) Get(ctx context.Context, path string, opts ...httpx.RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...httpx.RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, path, nil, opts)
}

// Post sends body as JSON. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...httpx.RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, body, opts)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...httpx.RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodPut, path, body, opts)
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...httpx.RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodPatch, path, body, opts)
}

func (c *Client) send(ctx context.Context, method, path string, body any, opts []httpx.RequestOption) ([]byte, error) {
	req, err := c.tr.NewJSONRequest(ctx, method, path, body, opts...)
	if err != nil {
		u, _ := url.Parse(path)
		return nil, undispatched(method, u, err)
	}
	return c.Do(req)
}

package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lgc202/apikit/credential"
	"github.com/lgc202/apikit/httpx"
)

// DefaultRefreshPath is the backend endpoint that exchanges a refresh token.
const DefaultRefreshPath = "/user/refresh"

var (
	ErrEmptyAccessToken   = errors.New("apiclient: refresh returned an empty access token")
	ErrCredentialsCleared = errors.New("apiclient: credentials were cleared during refresh")
)

// Refresher exchanges a refresh token for a new credential pair. It must not
// call back into Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.Pair, error)
}

// RefresherFunc adapts a function to a Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (credential.Pair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (credential.Pair, error) {
	return f(ctx, refreshToken)
}

// TokenRefresher calls POST {Path}?refreshToken=... on the raw transport and
// expects {"accessToken": "...", "refreshToken": "..."}.
type TokenRefresher struct {
	tr   *httpx.Client
	path string
}

func NewTokenRefresher(tr *httpx.Client, path string) *TokenRefresher {
	if path == "" {
		path = DefaultRefreshPath
	}
	return &TokenRefresher{tr: tr, path: path}
}

func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (credential.Pair, error) {
	req, err := r.tr.NewRequest(ctx, http.MethodPost, r.path,
		httpx.WithQueryParam("refreshToken", refreshToken),
		httpx.WithOrigin(httpx.OriginInternal),
		httpx.WithHeader("Accept", "application/json"),
	)
	if err != nil {
		return credential.Pair{}, err
	}
	var pair credential.Pair
	if _, err := r.tr.DoJSONInto(req, &pair); err != nil {
		return credential.Pair{}, fmt.Errorf("refresh credentials: %w", err)
	}
	return pair, nil
}

// refresh returns a fresh access token. Concurrent callers presenting the same
// refresh token share one call. The shared call runs on its own context so a
// caller giving up does not cancel it for the others.
func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	ch := c.flight.DoChan(refreshToken, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()

		c.logger.Debug("refreshing credentials")
		start := time.Now()
		access, err := c.exchange(rctx, refreshToken)
		if c.observe != nil {
			c.observe(err, time.Since(start))
		}
		if err != nil {
			c.logger.Warn("token refresh failed", "err", err)
			return "", err
		}
		c.logger.Info("credentials refreshed", "dur", time.Since(start))
		return access, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) exchange(ctx context.Context, refreshToken string) (string, error) {
	// A flight started with a stale token: the store already moved on.
	if current, err := c.store.RefreshToken(ctx); err == nil && current != refreshToken {
		access, _ := c.store.AccessToken(ctx)
		if access == "" {
			return "", ErrCredentialsCleared
		}
		return access, nil
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if pair.AccessToken == "" {
		return "", ErrEmptyAccessToken
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := c.store.Save(ctx, pair); err != nil {
		return "", fmt.Errorf("save refreshed credentials: %w", err)
	}
	return pair.AccessToken, nil
}

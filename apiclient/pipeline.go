package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lgc202/apikit/apierr"
	"github.com/lgc202/apikit/httpx"
)

var (
	ErrBodyNotReplayable = errors.New("apiclient: request body is not replayable (missing req.GetBody)")
	ErrNilRequest        = errors.New("apiclient: nil request")
)

// Do dispatches req and returns the response body on success (status < 400).
// An empty body yields a nil payload. Every failure is an *apierr.Error.
// A nil request fails with status 0 and apierr.MsgNotSent.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	if req == nil {
		return nil, undispatched("", nil, ErrNilRequest)
	}
	origin := apierr.ParseOrigin(httpx.OriginOf(req))
	req, stored := c.authorize(req, origin)

	resp, err := c.tr.Do(req)
	if err != nil {
		return nil, c.noResponse(req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusBadRequest {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, c.noResponse(req, fmt.Errorf("read response body: %w", err))
		}
		if len(body) == 0 {
			return nil, nil
		}
		return body, nil
	}

	// Only a 400 keeps its body as payload, other statuses just need the message.
	r := io.Reader(resp.Body)
	if resp.StatusCode != http.StatusBadRequest {
		r = io.LimitReader(resp.Body, c.tr.MaxErrorBodyBytes())
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, c.noResponse(req, fmt.Errorf("read response body: %w", err))
	}
	return c.fail(req, resp, body, origin, stored)
}

// authorize sets the bearer token on requests that have none. Internal
// requests use the stored access token, all requests use the static token.
// The returned token is non-empty only when it was read from the store.
func (c *Client) authorize(req *http.Request, origin apierr.Origin) (*http.Request, string) {
	if req.Header.Get("Authorization") != "" {
		return req, ""
	}
	token, stored := c.staticToken, ""
	if token == "" && origin == apierr.OriginInternal && c.store != nil {
		token, _ = c.store.AccessToken(req.Context())
		stored = token
	}
	if token == "" {
		return req, ""
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out, stored
}

// undispatched reports a request that never reached the transport.
func undispatched(method string, u *url.URL, err error) *apierr.Error {
	e := apierr.New(0, apierr.MsgNotSent, apierr.OriginExternal)
	e.Method = method
	if u != nil {
		e.URL = httpx.RedactURL(u)
	}
	e.Cause = err
	return e
}

func (c *Client) noResponse(req *http.Request, err error) *apierr.Error {
	e := apierr.New(0, apierr.MsgNoResponse, apierr.OriginExternal)
	e.Method = req.Method
	e.URL = httpx.RedactURL(req.URL)
	e.RequestID = c.tr.RequestIDOf(req, nil)
	e.Cause = err
	if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		e.Cause = errors.Join(err, ctxErr)
	}
	return e
}

func (c *Client) fail(req *http.Request, resp *http.Response, body []byte, origin apierr.Origin, stored string) ([]byte, error) {
	e := apierr.New(resp.StatusCode, messageOf(body), origin)
	e.Method = req.Method
	e.URL = httpx.RedactURL(req.URL)
	e.RequestID = c.tr.RequestIDOf(req, resp)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		e.Classify(apierr.CodeInvalidRequest, apierr.MsgInvalidRequest)
		e.SetPayload(apierr.Payload(body))
	case http.StatusUnauthorized:
		return c.reauthenticate(req, e, stored)
	case http.StatusNotFound:
		e.Classify(apierr.CodeNotFound, apierr.MsgNotFound)
	default:
		e.Classify(apierr.CodeInternal, apierr.MsgUnknown)
	}
	return nil, e
}

// messageOf reads the "message" string field of a JSON body.
func messageOf(body []byte) string {
	var env struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Message == nil {
		return apierr.MsgProcessing
	}
	return *env.Message
}

type replayKey struct{}

func isReplay(ctx context.Context) bool {
	v, _ := ctx.Value(replayKey{}).(bool)
	return v
}

// reauthenticate handles a 401. At most one refresh and one replay happen per
// original request. stored is the access token that authorize read from the
// store, empty when the caller or the static token supplied the bearer.
func (c *Client) reauthenticate(req *http.Request, e *apierr.Error, stored string) ([]byte, error) {
	ctx := req.Context()
	if isReplay(ctx) {
		return nil, c.expire(ctx, e, nil)
	}
	if c.store == nil {
		return nil, c.expire(ctx, e, nil)
	}

	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil || refreshToken == "" {
		return nil, c.expire(ctx, e, err)
	}

	// Another request may have refreshed while this one was in flight.
	if current, _ := c.store.AccessToken(ctx); stored != "" && current != "" && current != stored {
		c.logger.Debug("replaying with credentials refreshed by another request", "method", req.Method, "url", e.URL)
		return c.replay(req, current, e)
	}

	access, err := c.refresh(ctx, refreshToken)
	if err != nil {
		return nil, c.expire(ctx, e, err)
	}
	return c.replay(req, access, e)
}

func (c *Client) replay(req *http.Request, accessToken string, e *apierr.Error) ([]byte, error) {
	retry, err := replayRequest(req, accessToken)
	if err != nil {
		c.logger.Warn("cannot replay request after token refresh", "method", req.Method, "url", e.URL, "err", err)
		return nil, c.expire(req.Context(), e, err)
	}
	c.logger.Debug("replaying request after token refresh", "method", req.Method, "url", e.URL)
	return c.Do(retry)
}

// replayRequest clones req, replacing only the Authorization header, and marks
// the clone so that a second 401 is terminal.
func replayRequest(req *http.Request, accessToken string) (*http.Request, error) {
	out := req.Clone(context.WithValue(req.Context(), replayKey{}, true))
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrBodyNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	out.Header.Set("Authorization", "Bearer "+accessToken)
	return out, nil
}

// expire classifies e as EXPIRED_TOKEN and runs the expiry hooks. A caller
// that gave up (context done) gets the 401 unclassified with the context
// error as cause, since its session may still be valid.
func (c *Client) expire(ctx context.Context, e *apierr.Error, cause error) *apierr.Error {
	if cause != nil {
		e.Cause = cause
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !errors.Is(e.Cause, ctxErr) {
			e.Cause = errors.Join(e.Cause, ctxErr)
		}
		return e
	}
	e.Classify(apierr.CodeExpiredToken, apierr.MsgLoginRequired)
	c.logger.Info("login required", "method", e.Method, "url", e.URL, "status", e.Status)
	for _, fn := range c.onExpired {
		fn(ctx, e)
	}
	return e
}

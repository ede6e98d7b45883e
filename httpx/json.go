package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

func (c *Client) NewJSONRequest(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Request, error) {
	all := make([]RequestOption, 0, len(opts)+1)
	if body != nil {
		all = append(all, WithJSON(body))
	}
	all = append(all, opts...)
	req, err := c.NewRequest(ctx, method, path, all...)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// DoJSONInto performs the request, treats non-2xx as *Error, and decodes the
// JSON response into dst. The response body is always closed.
func (c *Client) DoJSONInto(req *http.Request, dst any) (*http.Response, error) {
	resp, err := c.DoStatus(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(dst); err != nil {
		return resp, err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return resp, errors.New("httpx: unexpected trailing data in JSON response")
	}
	return resp, nil
}

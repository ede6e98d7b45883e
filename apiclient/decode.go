package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DoInto is Do followed by JSON decoding of the payload into dst.
// An empty payload leaves dst untouched.
func (c *Client) DoInto(req *http.Request, dst any) error {
	body, err := c.Do(req)
	if err != nil {
		return err
	}
	if len(body) == 0 || dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// Call is a generic helper around DoInto.
func Call[T any](c *Client, req *http.Request) (T, error) {
	var out T
	if err := c.DoInto(req, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is returned by DoStatus for transport failures and non-2xx responses.
type Error struct {
	Method string
	// URL has credential-bearing query parameters redacted (see RedactURL).
	URL    string
	Origin string

	// StatusCode is 0 when the request failed before a response was received.
	StatusCode int

	RequestID  string
	RetryAfter time.Duration

	// RawBody is a truncated copy of the response body.
	RawBody []byte

	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Method != "" {
		b.WriteString(e.Method + " ")
	}
	if e.URL != "" {
		b.WriteString(e.URL)
		if e.Origin != "" {
			b.WriteString(" [" + e.Origin + "]")
		}
		b.WriteString(": ")
	}
	switch {
	case e.StatusCode != 0:
		fmt.Fprintf(&b, "http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	case e.Timeout():
		b.WriteString("timed out")
	default:
		b.WriteString("no response")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=" + e.RequestID)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Timeout reports whether the request ran out of time before a response.
func (e *Error) Timeout() bool {
	if e == nil || e.StatusCode != 0 || e.Cause == nil {
		return false
	}
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Cause, &ne) && ne.Timeout()
}

func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

func IsHTTPStatus(err error, code int) bool {
	he, ok := AsError(err)
	return ok && he.StatusCode == code
}

func IsTimeout(err error) bool {
	he, ok := AsError(err)
	return ok && he.Timeout()
}

// SensitiveQueryParams are masked by RedactURL. Matching is case-insensitive.
var SensitiveQueryParams = []string{"refreshToken", "accessToken", "access_token", "token", "api_key", "apikey"}

const redacted = "REDACTED"

// RedactURL renders u with the values of SensitiveQueryParams masked and any
// userinfo password removed. Refresh calls carry the refresh token in the
// query, so every URL that reaches an error or a log goes through here.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	out := *u
	if out.User != nil {
		out.User = url.User(out.User.Username())
	}
	if out.RawQuery != "" {
		q := out.Query()
		masked := false
		for key := range q {
			if isSensitive(key) {
				for i := range q[key] {
					q[key][i] = redacted
				}
				masked = true
			}
		}
		if masked {
			out.RawQuery = q.Encode()
		}
	}
	return out.String()
}

func isSensitive(key string) bool {
	for _, s := range SensitiveQueryParams {
		if strings.EqualFold(key, s) {
			return true
		}
	}
	return false
}

package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// BeforeHook runs before every attempt. A non-nil error aborts the call.
type BeforeHook func(req *http.Request, attempt int) error

// AfterHook observes every attempt. resp is nil when err is a transport error.
type AfterHook func(req *http.Request, resp *http.Response, err error, dur time.Duration, attempt int)

type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func chain(rt http.RoundTripper, mws []Middleware) http.RoundTripper {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			rt = mws[i](rt)
		}
	}
	return rt
}

// LogHook logs every attempt on l at debug level, and transport failures at
// warn level. URLs are redacted.
func LogHook(l *slog.Logger) AfterHook {
	return func(req *http.Request, resp *http.Response, err error, dur time.Duration, attempt int) {
		attrs := []slog.Attr{
			slog.String("method", req.Method),
			slog.String("url", RedactURL(req.URL)),
			slog.Int("attempt", attempt),
			slog.Duration("dur", dur),
		}
		if origin := OriginOf(req); origin != "" {
			attrs = append(attrs, slog.String("origin", origin))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("err", err))
			l.LogAttrs(req.Context(), slog.LevelWarn, "http attempt failed", attrs...)
			return
		}
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
		l.LogAttrs(req.Context(), slog.LevelDebug, "http attempt", attrs...)
	}
}

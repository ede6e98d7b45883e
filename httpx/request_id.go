package httpx

import (
	"context"

	"github.com/google/uuid"
)

type RequestIDFunc func() string

// RequestIDConfig controls the correlation id sent with every request.
// Replays of a request keep its id, so a refresh-and-retry shows up as one
// logical call in server logs.
type RequestIDConfig struct {
	// Header carries the id, e.g. "X-Request-ID". Empty disables injection.
	Header string

	// New generates an id when neither the request nor its context has one.
	New RequestIDFunc
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{Header: "X-Request-ID", New: DefaultRequestID}
}

func DefaultRequestID() string { return uuid.NewString() }

type requestIDKey struct{}

// ContextWithRequestID makes requests built from ctx use id instead of a
// generated one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (c RequestIDConfig) next(ctx context.Context) string {
	if id := requestIDFromContext(ctx); id != "" {
		return id
	}
	if c.New == nil {
		return ""
	}
	return c.New()
}

package httpx

import (
	"context"
	"net/http"
)

// Origin tags set at request construction.
const (
	OriginInternal = "internal"
	OriginExternal = "external"
)

type originKey struct{}

// ContextWithOrigin tags ctx so that requests built from it carry origin.
func ContextWithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginOf returns the origin tag of req, or "" when none was set.
func OriginOf(req *http.Request) string {
	if req == nil {
		return ""
	}
	s, _ := req.Context().Value(originKey{}).(string)
	return s
}

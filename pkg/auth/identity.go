package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the caller identity resolved from trusted proxy headers.
// Verification happens upstream (gateway or reverse proxy); this package
// only extracts and validates shape.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

type ctxIdentityKey struct{}

// FromHeaders reads the identity headers without requiring them.
func FromHeaders(r *http.Request) Identity {
	return Identity{
		UserID: strings.TrimSpace(r.Header.Get("X-User-ID")),
		Name:   strings.TrimSpace(r.Header.Get("X-User-Name")),
		Avatar: strings.TrimSpace(r.Header.Get("X-User-Avatar")),
	}
}

// FromContext returns the identity injected by the guard middleware, or a
// zero Identity when the request never passed through it.
func FromContext(ctx context.Context) Identity {
	if v := ctx.Value(ctxIdentityKey{}); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

func validUserID(s string) (bool, string) {
	if s == "" {
		return false, "user id required"
	}
	if len(s) > 128 {
		return false, "user id too long"
	}
	return true, ""
}

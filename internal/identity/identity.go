// Package identity carries the authenticated principal through a context.
// A context without an identity is an anonymous, local-only session.
package identity

import "context"

type contextKey string

const (
	identityKey contextKey = "identityID"
	sessionKey  contextKey = "sessionID"
)

func WithIdentity(ctx context.Context, identityID string) context.Context {
	if identityID == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identityID)
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(identityKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithSession names the client session a request belongs to. Hosts serving
// many clients set it so each client gets its own slot in local storage.
func WithSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// Session returns the client session, or "" for the device's own session.
func Session(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

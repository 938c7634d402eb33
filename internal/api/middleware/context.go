package middleware

import (
	"context"
	"net/http"
	"slices"
)

type contextKey string

const (
	ownerKey        contextKey = "owner"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// ScopeAdmin grants key management, retention cleanup and access to every batch.
const ScopeAdmin = "admin"

// SetOwner records the authenticated caller's identity, the name of its API key.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

func GetOwner(r *http.Request) (string, bool) {
	owner, ok := r.Context().Value(ownerKey).(string)
	return owner, ok && owner != ""
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes is exported for handler tests that bypass Authenticate.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// HasScope reports whether the authenticated key carries scope.
func HasScope(r *http.Request, scope string) bool {
	return slices.Contains(getScopes(r), scope)
}

// WithKeyPrefix is exported for rate-limit tests that bypass Authenticate.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	return setKeyPrefix(ctx, prefix)
}

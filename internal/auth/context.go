package auth

import "context"

type principalKey struct{}
type tokenKey struct{}

// ContextWithPrincipal threads the authenticated principal through the
// request context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, &p)
}

// PrincipalFromContext returns the principal attached by the
// authentication layer, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return Principal{}, false
	}
	return *p, true
}

// ContextWithToken keeps the raw bearer token alongside the principal so
// downstream calls can forward it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the raw bearer token, if attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	t, ok := ctx.Value(tokenKey{}).(string)
	if !ok || t == "" {
		return "", false
	}
	return t, true
}

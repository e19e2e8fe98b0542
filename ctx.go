package auth

import (
	"context"
)

var sessionCtxKey = &contextKey{"session"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithSession sets the SessionContext in the given context
func WithSession(ctx context.Context, session *SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session in the context.
func SessionFromContext(ctx context.Context) (*SessionContext, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*SessionContext)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the TokenClaims in the given context
func WithClaimsContext(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// GetClaims extracts the TokenClaims from the context
func GetClaims(ctx context.Context) (*TokenClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*TokenClaims)
	return raw, ok && raw != nil
}

// Can checks code for the session stored in ctx. A missing session is denied.
func Can(ctx context.Context, code string) (bool, error) {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return false, nil
	}
	return session.Can(ctx, code)
}

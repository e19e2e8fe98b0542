package auth

import (
	"context"
	"time"
)

// SessionContext is the explicit per request session. It replaces any
// ambient "current user" state and is passed through context.Context.
type SessionContext struct {
	UserID        int64        `json:"user_id"`
	TenantID      int64        `json:"tenant_id"`
	DeviceID      *string      `json:"device_id,omitempty"`
	User          *User        `json:"-"`
	Claims        *TokenClaims `json:"-"`
	EstablishedAt time.Time    `json:"established_at"`

	resolver *PermissionResolver
}

// NewSessionContext binds a session to the resolver and its cache.
func NewSessionContext(userID, tenantID int64, resolver *PermissionResolver) *SessionContext {
	return &SessionContext{
		UserID:        userID,
		TenantID:      tenantID,
		EstablishedAt: time.Now(),
		resolver:      resolver,
	}
}

// SessionFromClaims builds the session for a validated access token.
func SessionFromClaims(claims *TokenClaims, resolver *PermissionResolver) *SessionContext {
	s := NewSessionContext(claims.UserID, claims.TenantID, resolver)
	s.DeviceID = claims.DeviceID
	s.Claims = claims
	return s
}

// Permissions resolves the effective set for the session's user and tenant.
func (s *SessionContext) Permissions(ctx context.Context) (PermissionSet, error) {
	if s.resolver == nil {
		return PermissionSet{}, nil
	}
	return s.resolver.Resolve(ctx, s.UserID, s.TenantID)
}

// Can checks a single code in the session tenant.
func (s *SessionContext) Can(ctx context.Context, code string) (bool, error) {
	if s.resolver == nil {
		return false, nil
	}
	return s.resolver.Check(ctx, s.UserID, s.TenantID, code)
}

// Require returns ErrForbidden when code is not granted.
func (s *SessionContext) Require(ctx context.Context, code string) error {
	if s.resolver == nil {
		return ErrForbidden
	}
	return s.resolver.Require(ctx, s.UserID, s.TenantID, code)
}

// End drops the session's cached permissions.
func (s *SessionContext) End() {
	if s.resolver == nil || s.resolver.Cache() == nil {
		return
	}
	s.resolver.Cache().Invalidate(s.UserID, s.TenantID)
}

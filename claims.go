package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access from refresh tokens
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// TokenClaims is the claim set carried by access and refresh tokens.
// The registered claims carry iat, exp and jti.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID            int64     `json:"user_id"`
	TenantID          int64     `json:"tenant_id"`
	PermissionVersion int64     `json:"pv"`
	DeviceID          *string   `json:"device_id"`
	Kind              TokenKind `json:"typ"`
}

// JTI returns the token identifier
func (c *TokenClaims) JTI() string {
	return c.ID
}

// Expires returns the expiration time, zero when absent
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns the issued at time, zero when absent
func (c *TokenClaims) Issued() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// Device returns the bound device id, or "" for unbound tokens
func (c *TokenClaims) Device() string {
	if c.DeviceID == nil {
		return ""
	}
	return *c.DeviceID
}

// UserIDString is used as the JWT subject
func (c *TokenClaims) UserIDString() string {
	return strconv.FormatInt(c.UserID, 10)
}

// DeviceRef returns nil for an empty device id
func DeviceRef(deviceID string) *string {
	if deviceID == "" {
		return nil
	}
	return &deviceID
}

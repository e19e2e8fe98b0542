package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	DefaultAccessTokenTTL     = 15 * time.Minute
	DefaultRefreshTokenTTL    = 30 * 24 * time.Hour
	DefaultPermissionCacheTTL = 15 * time.Minute
	DefaultLockoutThreshold   = 5
	DefaultSigningMethod      = "HS256"
	DefaultArgonMemoryKiB     = 64 * 1024
	DefaultArgonIterations    = 4
	DefaultArgonParallelism   = 3
	DefaultArgonSaltLength    = 16
	DefaultArgonKeyLength     = 32
	MinSecretLength           = 32
)

const (
	LegacyPasswordStrategyNone   = "none"
	LegacyPasswordStrategyBcrypt = "bcrypt"
)

// PlatformTenantID is the tenant used for users without a tenant affiliation.
const PlatformTenantID int64 = 0

// Config is the getter surface every component reads from.
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetPasswordPepper() string
	GetPasswordHashParams() PasswordHashParams
	GetLegacyPasswordStrategy() string
	GetPermissionCacheTTL() time.Duration
	GetLockoutThreshold() int
	GetLockoutCooldown() time.Duration
	GetPlatformTenantID() int64
	GetDisclosePrincipalErrors() bool
}

// Settings is the concrete Config. Durations decode from strings like "15m".
type Settings struct {
	SigningKey              string        `mapstructure:"signing_key" json:"signing_key"`
	SigningMethod           string        `mapstructure:"signing_method" json:"signing_method"`
	Issuer                  string        `mapstructure:"issuer" json:"issuer"`
	Audience                []string      `mapstructure:"audience" json:"audience"`
	AccessTokenTTL          time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL         time.Duration `mapstructure:"refresh_token_ttl" json:"refresh_token_ttl"`
	PasswordPepper          string        `mapstructure:"password_pepper" json:"password_pepper"`
	ArgonMemoryKiB          uint32        `mapstructure:"argon_memory_kib" json:"argon_memory_kib"`
	ArgonIterations         uint32        `mapstructure:"argon_iterations" json:"argon_iterations"`
	ArgonParallelism        uint8         `mapstructure:"argon_parallelism" json:"argon_parallelism"`
	LegacyPasswordStrategy  string        `mapstructure:"legacy_password_strategy" json:"legacy_password_strategy"`
	PermissionCacheTTL      time.Duration `mapstructure:"permission_cache_ttl" json:"permission_cache_ttl"`
	LockoutThreshold        int           `mapstructure:"lockout_threshold" json:"lockout_threshold"`
	LockoutCooldown         time.Duration `mapstructure:"lockout_cooldown" json:"lockout_cooldown"`
	PlatformTenantID        int64         `mapstructure:"platform_tenant_id" json:"platform_tenant_id"`
	DisclosePrincipalErrors bool          `mapstructure:"disclose_principal_errors" json:"disclose_principal_errors"`
}

// DefaultSettings returns settings with every non secret value populated.
func DefaultSettings() Settings {
	return Settings{
		SigningMethod:          DefaultSigningMethod,
		Issuer:                 "franchise-auth",
		AccessTokenTTL:         DefaultAccessTokenTTL,
		RefreshTokenTTL:        DefaultRefreshTokenTTL,
		ArgonMemoryKiB:         DefaultArgonMemoryKiB,
		ArgonIterations:        DefaultArgonIterations,
		ArgonParallelism:       DefaultArgonParallelism,
		LegacyPasswordStrategy: LegacyPasswordStrategyNone,
		PermissionCacheTTL:     DefaultPermissionCacheTTL,
		LockoutThreshold:       DefaultLockoutThreshold,
		PlatformTenantID:       PlatformTenantID,
	}
}

// Validate fails when a required secret is missing. Secrets are never
// generated at runtime.
func (s Settings) Validate() error {
	if s.SigningKey == "" || s.PasswordPepper == "" {
		return ErrMissingSecret
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.SigningKey, validation.Required, validation.Length(MinSecretLength, 0)),
		validation.Field(&s.PasswordPepper, validation.Required, validation.Length(MinSecretLength, 0)),
		validation.Field(&s.SigningMethod, validation.Required, validation.In("HS256", "HS384", "HS512")),
		validation.Field(&s.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.RefreshTokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&s.ArgonMemoryKiB, validation.Required, validation.Min(uint32(8*1024))),
		validation.Field(&s.ArgonIterations, validation.Required),
		validation.Field(&s.ArgonParallelism, validation.Required),
		validation.Field(&s.LegacyPasswordStrategy, validation.In(LegacyPasswordStrategyNone, LegacyPasswordStrategyBcrypt)),
		validation.Field(&s.PermissionCacheTTL, validation.Required),
		validation.Field(&s.LockoutThreshold, validation.Required, validation.Min(1)),
		validation.Field(&s.LockoutCooldown, validation.Min(time.Duration(0))),
	)
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	out := s
	if out.SigningKey != "" {
		out.SigningKey = "[REDACTED]"
	}
	if out.PasswordPepper != "" {
		out.PasswordPepper = "[REDACTED]"
	}
	return out
}

func (s Settings) GetSigningKey() string {
	return s.SigningKey
}

func (s Settings) GetSigningMethod() string {
	return s.SigningMethod
}

func (s Settings) GetIssuer() string {
	return s.Issuer
}

func (s Settings) GetAudience() []string {
	return s.Audience
}

func (s Settings) GetAccessTokenTTL() time.Duration {
	return s.AccessTokenTTL
}

func (s Settings) GetRefreshTokenTTL() time.Duration {
	return s.RefreshTokenTTL
}

func (s Settings) GetPasswordPepper() string {
	return s.PasswordPepper
}

func (s Settings) GetLegacyPasswordStrategy() string {
	return s.LegacyPasswordStrategy
}

func (s Settings) GetPermissionCacheTTL() time.Duration {
	return s.PermissionCacheTTL
}

func (s Settings) GetLockoutThreshold() int {
	return s.LockoutThreshold
}

func (s Settings) GetLockoutCooldown() time.Duration {
	return s.LockoutCooldown
}

func (s Settings) GetPlatformTenantID() int64 {
	return s.PlatformTenantID
}

func (s Settings) GetDisclosePrincipalErrors() bool {
	return s.DisclosePrincipalErrors
}

func (s Settings) GetPasswordHashParams() PasswordHashParams {
	return PasswordHashParams{
		Memory:      s.ArgonMemoryKiB,
		Iterations:  s.ArgonIterations,
		Parallelism: s.ArgonParallelism,
		SaltLength:  DefaultArgonSaltLength,
		KeyLength:   DefaultArgonKeyLength,
	}
}

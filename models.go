package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the account status
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusLocked    UserStatus = "locked"
)

// User is the user model. TenantID is nil for platform level accounts.
type User struct {
	bun.BaseModel       `bun:"table:users,alias:usr"`
	ID                  int64      `bun:"id,pk,autoincrement" json:"id"`
	TenantID            *int64     `bun:"tenant_id" json:"tenant_id,omitempty"`
	Username            string     `bun:"username,notnull,unique" json:"username"`
	Email               string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash        string     `bun:"password_hash,notnull" json:"-"`
	Status              UserStatus `bun:"status,notnull,default:'active'" json:"status"`
	IsSuperAdmin        bool       `bun:"is_super_admin,notnull,default:false" json:"is_super_admin"`
	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull,default:0" json:"failed_login_attempts"`
	LastFailedLoginAt   *time.Time `bun:"last_failed_login_at,nullzero" json:"last_failed_login_at,omitempty"`
	LastLoginAt         *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	ForcePasswordChange bool       `bun:"force_password_change,notnull,default:false" json:"force_password_change"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to active
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive || u.Status == ""
}

func (u *User) IsInactive() bool {
	return u.Status == UserStatusInactive
}

func (u *User) IsSuspended() bool {
	return u.Status == UserStatusSuspended
}

// IsLocked only checks the stored status, the lockout threshold is applied
// by the Authenticator.
func (u *User) IsLocked() bool {
	return u.Status == UserStatusLocked
}

// Tenant is the franchise isolation boundary. PermissionVersion only grows.
type Tenant struct {
	bun.BaseModel     `bun:"table:tenants,alias:tnt"`
	ID                int64      `bun:"id,pk,autoincrement" json:"id"`
	Name              string     `bun:"name,notnull" json:"name"`
	PermissionVersion int64      `bun:"permission_version,notnull,default:1" json:"permission_version"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// GlobalRole is a tenant independent bundle of default grants
type GlobalRole struct {
	bun.BaseModel `bun:"table:global_roles,alias:grl"`
	ID            int64  `bun:"id,pk,autoincrement" json:"id"`
	Name          string `bun:"name,notnull,unique" json:"name"`
	Description   string `bun:"description" json:"description,omitempty"`
}

// Permission codes are globally unique
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:prm"`
	ID            int64  `bun:"id,pk,autoincrement" json:"id"`
	Code          string `bun:"code,notnull,unique" json:"code"`
	Description   string `bun:"description" json:"description,omitempty"`
	Category      string `bun:"category" json:"category,omitempty"`
}

type GlobalRolePermission struct {
	bun.BaseModel `bun:"table:global_role_permissions,alias:grp"`
	RoleID        int64 `bun:"role_id,pk" json:"role_id"`
	PermissionID  int64 `bun:"permission_id,pk" json:"permission_id"`
}

// UserRoleAssignment links a user to a role, tenant scoped when TenantID is set.
type UserRoleAssignment struct {
	bun.BaseModel `bun:"table:user_role_assignments,alias:ura"`
	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64      `bun:"user_id,notnull" json:"user_id"`
	RoleID        int64      `bun:"role_id,notnull" json:"role_id"`
	TenantID      *int64     `bun:"tenant_id" json:"tenant_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

type TenantRoleOverride struct {
	bun.BaseModel `bun:"table:tenant_role_overrides,alias:tro"`
	ID            int64 `bun:"id,pk,autoincrement" json:"id"`
	TenantID      int64 `bun:"tenant_id,notnull,unique:tenant_role_permission" json:"tenant_id"`
	RoleID        int64 `bun:"role_id,notnull,unique:tenant_role_permission" json:"role_id"`
	PermissionID  int64 `bun:"permission_id,notnull,unique:tenant_role_permission" json:"permission_id"`
	Enabled       bool  `bun:"enabled,notnull" json:"enabled"`
}

type UserPermissionOverride struct {
	bun.BaseModel `bun:"table:user_permission_overrides,alias:upo"`
	ID            int64 `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64 `bun:"user_id,notnull,unique:user_tenant_permission" json:"user_id"`
	TenantID      int64 `bun:"tenant_id,notnull,unique:user_tenant_permission" json:"tenant_id"`
	PermissionID  int64 `bun:"permission_id,notnull,unique:user_tenant_permission" json:"permission_id"`
	Allowed       bool  `bun:"allowed,notnull" json:"allowed"`
}

// RefreshTokenRecord is persisted once per issued refresh token. Revoked
// never goes back to false.
type RefreshTokenRecord struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:varchar(36)" json:"id,omitempty"`
	JTI           string     `bun:"jti,notnull,unique" json:"jti"`
	UserID        int64      `bun:"user_id,notnull" json:"user_id"`
	TenantID      int64      `bun:"tenant_id,notnull" json:"tenant_id"`
	DeviceID      *string    `bun:"device_id" json:"device_id,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Revoked       bool       `bun:"revoked,notnull,default:false" json:"revoked"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	ReplacedBy    string     `bun:"replaced_by" json:"replaced_by,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsExpired reports whether the record is past its expiry at now.
func (r *RefreshTokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsActive reports whether the record can still be rotated at now.
func (r *RefreshTokenRecord) IsActive(now time.Time) bool {
	return !r.Revoked && !r.IsExpired(now)
}

// FailedLoginAttempt is the audit entry recorded for every failed login.
type FailedLoginAttempt struct {
	bun.BaseModel `bun:"table:failed_login_attempts,alias:fla"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:varchar(36)" json:"id,omitempty"`
	Identifier    string    `bun:"identifier,notnull" json:"identifier"`
	UserID        *int64    `bun:"user_id" json:"user_id,omitempty"`
	SourceAddress string    `bun:"source_address" json:"source_address,omitempty"`
	UserAgent     string    `bun:"user_agent" json:"user_agent,omitempty"`
	Reason        string    `bun:"reason,notnull" json:"reason"`
	AttemptedAt   time.Time `bun:"attempted_at,notnull" json:"attempted_at"`
}

// RoleAssignment is the resolver view of a UserRoleAssignment.
type RoleAssignment struct {
	RoleID   int64
	TenantID *int64
}

// AppliesTo reports whether the assignment is global or scoped to tenantID.
func (a RoleAssignment) AppliesTo(tenantID int64) bool {
	return a.TenantID == nil || *a.TenantID == tenantID
}

// RoleOverride is the resolver view of a TenantRoleOverride.
type RoleOverride struct {
	RoleID  int64
	Code    string
	Enabled bool
}

// PermissionOverride is the resolver view of a UserPermissionOverride.
type PermissionOverride struct {
	Code    string
	Allowed bool
}

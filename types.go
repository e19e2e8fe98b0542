package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CredentialRepository is the storage boundary used by the login flow.
// Implementations must honor ctx cancellation; a cancelled lookup is an
// infrastructure failure, never "user not found".
type CredentialRepository interface {
	// FindByIdentifier resolves a username or email. It returns
	// ErrIdentityNotFound when no user matches.
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByID(ctx context.Context, userID int64) (*User, error)
	// IncrementFailedAttempts bumps the failed-login counter and returns the
	// new value. Concurrent increments may race; callers treat the value as
	// approximate.
	IncrementFailedAttempts(ctx context.Context, userID int64, at time.Time) (int, error)
	// ResetFailedAttempts clears the counter once the lockout cooldown passed.
	ResetFailedAttempts(ctx context.Context, userID int64) error
	// RecordSuccessfulLogin resets the failed-login counter.
	RecordSuccessfulLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID int64, hash string, clearForceChange bool) error
}

// PermissionVersionStore exposes the per tenant permission-version counter.
// Versions only move forward.
type PermissionVersionStore interface {
	CurrentPermissionVersion(ctx context.Context, tenantID int64) (int64, error)
	BumpPermissionVersion(ctx context.Context, tenantID int64) (int64, error)
	BumpAllPermissionVersions(ctx context.Context) error
}

// PermissionRepository is the read side of the authorization model.
type PermissionRepository interface {
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
	// ListPermissionCodes returns the full permission catalog.
	ListPermissionCodes(ctx context.Context) ([]string, error)
	ListRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	// ListRoleGrants returns the default permission codes for each role.
	ListRoleGrants(ctx context.Context, roleIDs []int64) (map[int64][]string, error)
	ListTenantRoleOverrides(ctx context.Context, tenantID int64, roleIDs []int64) ([]RoleOverride, error)
	ListUserPermissionOverrides(ctx context.Context, userID, tenantID int64) ([]PermissionOverride, error)
}

// PermissionAdminRepository is the write side of the authorization model.
// It never touches permission versions or caches, PermissionAdmin does.
type PermissionAdminRepository interface {
	AssignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error
	UnassignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error
	SetUserPermissionOverride(ctx context.Context, userID, tenantID int64, code string, allowed bool) error
	ClearUserPermissionOverride(ctx context.Context, userID, tenantID int64, code string) error
	SetTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string, enabled bool) error
	ClearTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string) error
	GrantRolePermission(ctx context.Context, roleID int64, code string) error
	RevokeRolePermission(ctx context.Context, roleID int64, code string) error
}

// RefreshTokenRegistry persists one record per issued refresh token.
type RefreshTokenRegistry interface {
	Store(ctx context.Context, record *RefreshTokenRecord) error
	// Lookup returns ErrRefreshTokenNotFound for unknown jti values.
	Lookup(ctx context.Context, jti string) (*RefreshTokenRecord, error)
	// RevokeByJTI is idempotent, revoking an unknown or revoked jti is not an error.
	RevokeByJTI(ctx context.Context, jti string) error
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	RevokeAllForUserDevice(ctx context.Context, userID int64, deviceID string) (int64, error)
	// Rotate revokes oldJTI and stores next as one atomic step. It returns
	// ErrTokenRevoked when oldJTI is no longer active, so only one of two
	// concurrent rotations of the same token can succeed.
	Rotate(ctx context.Context, oldJTI string, next *RefreshTokenRecord) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// FailedLoginRecorder persists failed-attempt audit entries.
type FailedLoginRecorder interface {
	RecordFailedLogin(ctx context.Context, attempt FailedLoginAttempt) error
}

// defLogger writes to out, or stdout when out is nil.
type defLogger struct {
	out io.Writer
}

func (d defLogger) Error(msg string, args ...any) { d.write("ERR", msg, args) }
func (d defLogger) Warn(msg string, args ...any)  { d.write("WRN", msg, args) }
func (d defLogger) Info(msg string, args ...any)  { d.write("INF", msg, args) }
func (d defLogger) Debug(msg string, args ...any) { d.write("DBG", msg, args) }

func (d defLogger) write(level, msg string, args []any) {
	out := d.out
	if out == nil {
		out = os.Stdout
	}
	io.WriteString(out, "["+level+"] AUTH "+formatLog(msg, args))
}

// formatLog accepts both printf style messages and a message followed by
// key/value pairs.
func formatLog(msg string, args []any) string {
	var out string
	if strings.Contains(msg, "%") {
		out = fmt.Sprintf(msg, args...)
	} else {
		var b strings.Builder
		b.WriteString(msg)
		for i := 0; i < len(args); i += 2 {
			if i+1 < len(args) {
				fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			} else {
				fmt.Fprintf(&b, " %v", args[i])
			}
		}
		out = b.String()
	}
	return newline(out)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NewLogger returns the stdout logger used when none is configured.
func NewLogger() Logger {
	return defLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

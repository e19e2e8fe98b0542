package repository

import (
	"context"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Models lists every table in creation order.
func Models() []any {
	return []any{
		(*auth.Tenant)(nil),
		(*auth.User)(nil),
		(*auth.GlobalRole)(nil),
		(*auth.Permission)(nil),
		(*auth.GlobalRolePermission)(nil),
		(*auth.UserRoleAssignment)(nil),
		(*auth.TenantRoleOverride)(nil),
		(*auth.UserPermissionOverride)(nil),
		(*auth.RefreshTokenRecord)(nil),
		(*auth.FailedLoginAttempt)(nil),
	}
}

// CreateSchema creates missing tables and indexes. MySQL has no
// CREATE INDEX IF NOT EXISTS, secondary indexes are skipped there.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	if db.Dialect().Name() == dialect.MySQL {
		return nil
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*auth.UserRoleAssignment)(nil), "idx_user_role_assignments_user", []string{"user_id"}},
		{(*auth.RefreshTokenRecord)(nil), "idx_refresh_tokens_user_device", []string{"user_id", "device_id"}},
		{(*auth.RefreshTokenRecord)(nil), "idx_refresh_tokens_expires_at", []string{"expires_at"}},
		{(*auth.FailedLoginAttempt)(nil), "idx_failed_login_attempts_identifier", []string{"identifier", "attempted_at"}},
	}

	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}

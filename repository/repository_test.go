package repository

import (
	"context"
	"database/sql"
	"testing"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, CreateSchema(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

type seeded struct {
	tenantA *auth.Tenant
	tenantB *auth.Tenant
	alice   *auth.User
	root    *auth.User
	editor  *auth.GlobalRole
}

func seed(t *testing.T, m Manager) seeded {
	t.Helper()
	ctx := context.Background()

	var s seeded
	var err error

	s.tenantA, err = m.Tenants().Create(ctx, "Downtown")
	require.NoError(t, err)
	s.tenantB, err = m.Tenants().Create(ctx, "Airport")
	require.NoError(t, err)

	s.alice, err = m.Users().Create(ctx, &auth.User{
		TenantID:     &s.tenantA.ID,
		Username:     "alice",
		Email:        "Alice@Example.com",
		PasswordHash: "placeholder",
	})
	require.NoError(t, err)

	s.root, err = m.Users().Create(ctx, &auth.User{
		Username:     "root",
		Email:        "root@example.com",
		PasswordHash: "placeholder",
		IsSuperAdmin: true,
	})
	require.NoError(t, err)

	for _, code := range []string{"post_edit", "post_view", "post_delete"} {
		_, err := m.Permissions().CreatePermission(ctx, code, "")
		require.NoError(t, err)
	}

	s.editor, err = m.Permissions().CreateRole(ctx, "editor", "")
	require.NoError(t, err)

	require.NoError(t, m.Permissions().GrantRolePermission(ctx, s.editor.ID, "post_edit"))
	require.NoError(t, m.Permissions().GrantRolePermission(ctx, s.editor.ID, "post_view"))
	require.NoError(t, m.Permissions().AssignRole(ctx, s.alice.ID, s.editor.ID, nil))

	return s
}

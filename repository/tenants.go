package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/uptrace/bun"
)

// Tenants implements auth.PermissionVersionStore. Versions are only ever
// incremented in SQL, never written from a value read earlier.
type Tenants struct {
	db  bun.IDB
	now func() time.Time
}

var _ auth.PermissionVersionStore = (*Tenants)(nil)

func NewTenants(db bun.IDB) *Tenants {
	return &Tenants{db: db, now: time.Now}
}

// Create inserts a tenant starting at permission-version 1.
func (t *Tenants) Create(ctx context.Context, name string) (*auth.Tenant, error) {
	tenant := &auth.Tenant{Name: name, PermissionVersion: 1}
	if _, err := t.db.NewInsert().Model(tenant).Exec(ctx); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (t *Tenants) Get(ctx context.Context, tenantID int64) (*auth.Tenant, error) {
	tenant := &auth.Tenant{}
	err := t.db.NewSelect().
		Model(tenant).
		Where("?TableAlias.id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

func (t *Tenants) CurrentPermissionVersion(ctx context.Context, tenantID int64) (int64, error) {
	var version int64
	err := t.db.NewSelect().
		Model((*auth.Tenant)(nil)).
		Column("permission_version").
		Where("id = ?", tenantID).
		Limit(1).
		Scan(ctx, &version)
	if err != nil {
		if isNotFound(err) {
			return 0, auth.ErrTenantNotFound
		}
		return 0, err
	}
	return version, nil
}

func (t *Tenants) BumpPermissionVersion(ctx context.Context, tenantID int64) (int64, error) {
	var version int64
	err := t.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*auth.Tenant)(nil)).
			Set("permission_version = permission_version + 1").
			Set("updated_at = ?", t.now().UTC()).
			Where("id = ?", tenantID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectAffected(res, auth.ErrTenantNotFound); err != nil {
			return err
		}

		return tx.NewSelect().
			Model((*auth.Tenant)(nil)).
			Column("permission_version").
			Where("id = ?", tenantID).
			Scan(ctx, &version)
	})
	return version, err
}

func (t *Tenants) BumpAllPermissionVersions(ctx context.Context) error {
	_, err := t.db.NewUpdate().
		Model((*auth.Tenant)(nil)).
		Set("permission_version = permission_version + 1").
		Set("updated_at = ?", t.now().UTC()).
		Where("1 = 1").
		Exec(ctx)
	return err
}

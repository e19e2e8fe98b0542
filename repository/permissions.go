package repository

import (
	"context"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/uptrace/bun"
)

// Permissions implements both sides of the authorization model on bun.
type Permissions struct {
	db bun.IDB
}

var (
	_ auth.PermissionRepository      = (*Permissions)(nil)
	_ auth.PermissionAdminRepository = (*Permissions)(nil)
)

func NewPermissions(db bun.IDB) *Permissions {
	return &Permissions{db: db}
}

type roleCode struct {
	RoleID int64  `bun:"role_id"`
	Code   string `bun:"code"`
}

type roleCodeFlag struct {
	RoleID  int64  `bun:"role_id"`
	Code    string `bun:"code"`
	Enabled bool   `bun:"enabled"`
}

type codeFlag struct {
	Code    string `bun:"code"`
	Allowed bool   `bun:"allowed"`
}

// CreatePermission adds code to the catalog.
func (p *Permissions) CreatePermission(ctx context.Context, code, description string) (*auth.Permission, error) {
	record := &auth.Permission{Code: code, Description: description}
	if _, err := p.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (p *Permissions) CreateRole(ctx context.Context, name, description string) (*auth.GlobalRole, error) {
	record := &auth.GlobalRole{Name: name, Description: description}
	if _, err := p.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (p *Permissions) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	var flag bool
	err := p.db.NewSelect().
		Model((*auth.User)(nil)).
		Column("is_super_admin").
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx, &flag)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return flag, nil
}

func (p *Permissions) ListPermissionCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := p.db.NewSelect().
		Model((*auth.Permission)(nil)).
		Column("code").
		Order("code ASC").
		Scan(ctx, &codes)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return codes, nil
}

func (p *Permissions) ListRoleAssignments(ctx context.Context, userID int64) ([]auth.RoleAssignment, error) {
	var rows []auth.UserRoleAssignment
	err := p.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.user_id = ?", userID).
		Order("role_id ASC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	out := make([]auth.RoleAssignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, auth.RoleAssignment{RoleID: r.RoleID, TenantID: r.TenantID})
	}
	return out, nil
}

func (p *Permissions) ListRoleGrants(ctx context.Context, roleIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}

	var rows []roleCode
	err := p.db.NewRaw(`
		SELECT grp.role_id, prm.code
		FROM global_role_permissions AS grp
		JOIN permissions AS prm ON prm.id = grp.permission_id
		WHERE grp.role_id IN (?)`, bun.In(roleIDs)).
		Scan(ctx, &rows)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	for _, r := range rows {
		out[r.RoleID] = append(out[r.RoleID], r.Code)
	}
	return out, nil
}

func (p *Permissions) ListTenantRoleOverrides(ctx context.Context, tenantID int64, roleIDs []int64) ([]auth.RoleOverride, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	var rows []roleCodeFlag
	err := p.db.NewRaw(`
		SELECT tro.role_id, prm.code, tro.enabled
		FROM tenant_role_overrides AS tro
		JOIN permissions AS prm ON prm.id = tro.permission_id
		WHERE tro.tenant_id = ? AND tro.role_id IN (?)`, tenantID, bun.In(roleIDs)).
		Scan(ctx, &rows)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	out := make([]auth.RoleOverride, 0, len(rows))
	for _, r := range rows {
		out = append(out, auth.RoleOverride{RoleID: r.RoleID, Code: r.Code, Enabled: r.Enabled})
	}
	return out, nil
}

func (p *Permissions) ListUserPermissionOverrides(ctx context.Context, userID, tenantID int64) ([]auth.PermissionOverride, error) {
	var rows []codeFlag
	err := p.db.NewRaw(`
		SELECT prm.code, upo.allowed
		FROM user_permission_overrides AS upo
		JOIN permissions AS prm ON prm.id = upo.permission_id
		WHERE upo.user_id = ? AND upo.tenant_id = ?`, userID, tenantID).
		Scan(ctx, &rows)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	out := make([]auth.PermissionOverride, 0, len(rows))
	for _, r := range rows {
		out = append(out, auth.PermissionOverride{Code: r.Code, Allowed: r.Allowed})
	}
	return out, nil
}

// AssignRole is idempotent.
func (p *Permissions) AssignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := scopedAssignment(tx.NewSelect().Model((*auth.UserRoleAssignment)(nil)), userID, roleID, tenantID).
			Exists(ctx)
		if err != nil || exists {
			return err
		}

		_, err = tx.NewInsert().Model(&auth.UserRoleAssignment{
			UserID:   userID,
			RoleID:   roleID,
			TenantID: tenantID,
		}).Exec(ctx)
		return err
	})
}

func (p *Permissions) UnassignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	q := p.db.NewDelete().Model((*auth.UserRoleAssignment)(nil)).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID)
	if tenantID == nil {
		q = q.Where("tenant_id IS NULL")
	} else {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	_, err := q.Exec(ctx)
	return err
}

func scopedAssignment(q *bun.SelectQuery, userID, roleID int64, tenantID *int64) *bun.SelectQuery {
	q = q.Where("user_id = ?", userID).Where("role_id = ?", roleID)
	if tenantID == nil {
		return q.Where("tenant_id IS NULL")
	}
	return q.Where("tenant_id = ?", *tenantID)
}

func (p *Permissions) SetUserPermissionOverride(ctx context.Context, userID, tenantID int64, code string, allowed bool) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		permissionID, err := permissionIDByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*auth.UserPermissionOverride)(nil)).
			Where("user_id = ?", userID).
			Where("tenant_id = ?", tenantID).
			Where("permission_id = ?", permissionID).
			Exec(ctx); err != nil {
			return err
		}

		_, err = tx.NewInsert().Model(&auth.UserPermissionOverride{
			UserID:       userID,
			TenantID:     tenantID,
			PermissionID: permissionID,
			Allowed:      allowed,
		}).Exec(ctx)
		return err
	})
}

func (p *Permissions) ClearUserPermissionOverride(ctx context.Context, userID, tenantID int64, code string) error {
	permissionID, err := permissionIDByCode(ctx, p.db, code)
	if err != nil {
		return err
	}
	_, err = p.db.NewDelete().Model((*auth.UserPermissionOverride)(nil)).
		Where("user_id = ?", userID).
		Where("tenant_id = ?", tenantID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	return err
}

func (p *Permissions) SetTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string, enabled bool) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		permissionID, err := permissionIDByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*auth.TenantRoleOverride)(nil)).
			Where("tenant_id = ?", tenantID).
			Where("role_id = ?", roleID).
			Where("permission_id = ?", permissionID).
			Exec(ctx); err != nil {
			return err
		}

		_, err = tx.NewInsert().Model(&auth.TenantRoleOverride{
			TenantID:     tenantID,
			RoleID:       roleID,
			PermissionID: permissionID,
			Enabled:      enabled,
		}).Exec(ctx)
		return err
	})
}

func (p *Permissions) ClearTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string) error {
	permissionID, err := permissionIDByCode(ctx, p.db, code)
	if err != nil {
		return err
	}
	_, err = p.db.NewDelete().Model((*auth.TenantRoleOverride)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("role_id = ?", roleID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	return err
}

// GrantRolePermission is idempotent.
func (p *Permissions) GrantRolePermission(ctx context.Context, roleID int64, code string) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		permissionID, err := permissionIDByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		exists, err := tx.NewSelect().Model((*auth.GlobalRolePermission)(nil)).
			Where("role_id = ?", roleID).
			Where("permission_id = ?", permissionID).
			Exists(ctx)
		if err != nil || exists {
			return err
		}

		_, err = tx.NewInsert().Model(&auth.GlobalRolePermission{
			RoleID:       roleID,
			PermissionID: permissionID,
		}).Exec(ctx)
		return err
	})
}

func (p *Permissions) RevokeRolePermission(ctx context.Context, roleID int64, code string) error {
	permissionID, err := permissionIDByCode(ctx, p.db, code)
	if err != nil {
		return err
	}
	_, err = p.db.NewDelete().Model((*auth.GlobalRolePermission)(nil)).
		Where("role_id = ?", roleID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	return err
}

func permissionIDByCode(ctx context.Context, db bun.IDB, code string) (int64, error) {
	var id int64
	err := db.NewSelect().
		Model((*auth.Permission)(nil)).
		Column("id").
		Where("code = ?", code).
		Limit(1).
		Scan(ctx, &id)
	if err != nil {
		if isNotFound(err) {
			return 0, auth.ErrPermissionNotFound
		}
		return 0, err
	}
	return id, nil
}

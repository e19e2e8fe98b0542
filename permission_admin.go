package auth

import (
	"context"
)

// PermissionAdmin applies authorization model changes and keeps permission
// versions and the permission cache consistent with them.
//
//   - user role and user override changes invalidate that user's cache entry
//   - tenant role overrides bump that tenant's version and clear the cache
//   - global role grants bump every tenant's version and clear the cache
type PermissionAdmin struct {
	repo         PermissionAdminRepository
	versions     PermissionVersionStore
	cache        *PermissionCache
	activitySink ActivitySink
	logger       Logger
}

func NewPermissionAdmin(repo PermissionAdminRepository, versions PermissionVersionStore, cache *PermissionCache) *PermissionAdmin {
	return &PermissionAdmin{
		repo:         repo,
		versions:     versions,
		cache:        cache,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
}

func (p *PermissionAdmin) WithLogger(logger Logger) *PermissionAdmin {
	p.logger = normalizeLogger(logger)
	return p
}

func (p *PermissionAdmin) WithActivitySink(sink ActivitySink) *PermissionAdmin {
	p.activitySink = normalizeActivitySink(sink)
	return p
}

// AssignRole grants roleID to userID, globally when tenantID is nil.
func (p *PermissionAdmin) AssignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	if err := p.repo.AssignRole(ctx, userID, roleID, tenantID); err != nil {
		return p.storeErr(err, "failed to assign role")
	}
	p.invalidateUserScope(userID, tenantID)
	p.emit(ctx, "role.assigned", userID, tenantID, map[string]any{"role_id": roleID})
	return nil
}

func (p *PermissionAdmin) UnassignRole(ctx context.Context, userID, roleID int64, tenantID *int64) error {
	if err := p.repo.UnassignRole(ctx, userID, roleID, tenantID); err != nil {
		return p.storeErr(err, "failed to unassign role")
	}
	p.invalidateUserScope(userID, tenantID)
	p.emit(ctx, "role.unassigned", userID, tenantID, map[string]any{"role_id": roleID})
	return nil
}

// SetUserOverride allows or denies code for (userID, tenantID).
func (p *PermissionAdmin) SetUserOverride(ctx context.Context, userID, tenantID int64, code string, allowed bool) error {
	if err := p.repo.SetUserPermissionOverride(ctx, userID, tenantID, code, allowed); err != nil {
		return p.storeErr(err, "failed to set user permission override")
	}
	p.invalidate(userID, tenantID)
	p.emit(ctx, "user_override.set", userID, &tenantID, map[string]any{"code": code, "allowed": allowed})
	return nil
}

func (p *PermissionAdmin) ClearUserOverride(ctx context.Context, userID, tenantID int64, code string) error {
	if err := p.repo.ClearUserPermissionOverride(ctx, userID, tenantID, code); err != nil {
		return p.storeErr(err, "failed to clear user permission override")
	}
	p.invalidate(userID, tenantID)
	p.emit(ctx, "user_override.cleared", userID, &tenantID, map[string]any{"code": code})
	return nil
}

// SetTenantRoleOverride enables or disables code for roleID in tenantID.
func (p *PermissionAdmin) SetTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string, enabled bool) error {
	if err := p.repo.SetTenantRoleOverride(ctx, tenantID, roleID, code, enabled); err != nil {
		return p.storeErr(err, "failed to set tenant role override")
	}
	if err := p.bumpTenant(ctx, tenantID); err != nil {
		return err
	}
	p.emit(ctx, "tenant_override.set", 0, &tenantID, map[string]any{"role_id": roleID, "code": code, "enabled": enabled})
	return nil
}

func (p *PermissionAdmin) ClearTenantRoleOverride(ctx context.Context, tenantID, roleID int64, code string) error {
	if err := p.repo.ClearTenantRoleOverride(ctx, tenantID, roleID, code); err != nil {
		return p.storeErr(err, "failed to clear tenant role override")
	}
	if err := p.bumpTenant(ctx, tenantID); err != nil {
		return err
	}
	p.emit(ctx, "tenant_override.cleared", 0, &tenantID, map[string]any{"role_id": roleID, "code": code})
	return nil
}

// GrantRolePermission adds code to the global defaults of roleID.
func (p *PermissionAdmin) GrantRolePermission(ctx context.Context, roleID int64, code string) error {
	if err := p.repo.GrantRolePermission(ctx, roleID, code); err != nil {
		return p.storeErr(err, "failed to grant role permission")
	}
	if err := p.bumpAll(ctx); err != nil {
		return err
	}
	p.emit(ctx, "role_grant.added", 0, nil, map[string]any{"role_id": roleID, "code": code})
	return nil
}

func (p *PermissionAdmin) RevokeRolePermission(ctx context.Context, roleID int64, code string) error {
	if err := p.repo.RevokeRolePermission(ctx, roleID, code); err != nil {
		return p.storeErr(err, "failed to revoke role permission")
	}
	if err := p.bumpAll(ctx); err != nil {
		return err
	}
	p.emit(ctx, "role_grant.removed", 0, nil, map[string]any{"role_id": roleID, "code": code})
	return nil
}

func (p *PermissionAdmin) bumpTenant(ctx context.Context, tenantID int64) error {
	v, err := p.versions.BumpPermissionVersion(ctx, tenantID)
	if err != nil {
		return p.storeErr(err, "failed to bump permission version")
	}
	p.logger.Info("permission version bumped", "tenant_id", tenantID, "version", v)
	p.invalidateAll()
	return nil
}

func (p *PermissionAdmin) bumpAll(ctx context.Context) error {
	if err := p.versions.BumpAllPermissionVersions(ctx); err != nil {
		return p.storeErr(err, "failed to bump permission versions")
	}
	p.logger.Info("permission versions bumped for every tenant")
	p.invalidateAll()
	return nil
}

// invalidateUserScope drops the tenant entry, or every entry of the user
// for a global assignment.
func (p *PermissionAdmin) invalidateUserScope(userID int64, tenantID *int64) {
	if p.cache == nil {
		return
	}
	if tenantID == nil {
		p.cache.InvalidateUser(userID)
		return
	}
	p.cache.Invalidate(userID, *tenantID)
}

func (p *PermissionAdmin) invalidate(userID, tenantID int64) {
	if p.cache != nil {
		p.cache.Invalidate(userID, tenantID)
	}
}

func (p *PermissionAdmin) invalidateAll() {
	if p.cache != nil {
		p.cache.InvalidateAll()
	}
}

func (p *PermissionAdmin) storeErr(err error, msg string) error {
	if !IsInfrastructureError(err) {
		return err
	}
	p.logger.Error(msg, "error", err)
	return infraError(err, msg)
}

func (p *PermissionAdmin) emit(ctx context.Context, action string, userID int64, tenantID *int64, meta map[string]any) {
	var tid int64
	if tenantID != nil {
		tid = *tenantID
	}
	meta["action"] = action
	emitActivity(ctx, p.activitySink, p.logger, ActivityEvent{
		EventType: ActivityEventPermissionsEdit,
		UserID:    userID,
		TenantID:  tid,
		Metadata:  meta,
	})
}

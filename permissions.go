package auth

import (
	"context"
	"sort"
)

// PermissionSet is an immutable set of permission codes. A set created by
// AllPermissions grants every code, including codes outside the catalog.
type PermissionSet struct {
	codes map[string]struct{}
	all   bool
}

// NewPermissionSet builds a set from codes
func NewPermissionSet(codes ...string) PermissionSet {
	s := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		s.codes[c] = struct{}{}
	}
	return s
}

// AllPermissions is the super-admin set. catalog is what Codes reports.
func AllPermissions(catalog ...string) PermissionSet {
	s := NewPermissionSet(catalog...)
	s.all = true
	return s
}

// Has reports whether code is granted.
func (s PermissionSet) Has(code string) bool {
	if s.all {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// GrantsAll reports whether this is a super-admin set.
func (s PermissionSet) GrantsAll() bool {
	return s.all
}

// Codes returns the granted codes sorted.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s PermissionSet) Len() int {
	return len(s.codes)
}

// PermissionResolver computes effective permission sets.
//
// Precedence, per code:
//  1. super-admin grants everything
//  2. a user override for (user, tenant, code) is final
//  3. each role that applies to the tenant contributes its defaults, adjusted
//     by the tenant overrides for that role only
//  4. the effective set is the union of role contributions
type PermissionResolver struct {
	repo             PermissionRepository
	cache            *PermissionCache
	platformTenantID int64
	logger           Logger
}

// ResolverOption configures a PermissionResolver
type ResolverOption func(*PermissionResolver)

// WithResolverCache enables caching of resolved sets.
func WithResolverCache(cache *PermissionCache) ResolverOption {
	return func(r *PermissionResolver) {
		r.cache = cache
	}
}

func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *PermissionResolver) {
		r.logger = normalizeLogger(logger)
	}
}

// WithResolverPlatformTenant sets the tenant used by HomeTenant for users
// without a tenant.
func WithResolverPlatformTenant(tenantID int64) ResolverOption {
	return func(r *PermissionResolver) {
		r.platformTenantID = tenantID
	}
}

func NewPermissionResolver(repo PermissionRepository, opts ...ResolverOption) *PermissionResolver {
	r := &PermissionResolver{
		repo:             repo,
		platformTenantID: PlatformTenantID,
		logger:           defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Cache returns the cache in use, or nil.
func (r *PermissionResolver) Cache() *PermissionCache {
	return r.cache
}

// HomeTenant is the tenant used by callers that have no tenant context.
func (r *PermissionResolver) HomeTenant(user *User) int64 {
	if user == nil || user.TenantID == nil {
		return r.platformTenantID
	}
	return *user.TenantID
}

// Resolve returns the effective permission set for (userID, tenantID).
func (r *PermissionResolver) Resolve(ctx context.Context, userID, tenantID int64) (PermissionSet, error) {
	var gen uint64
	if r.cache != nil {
		if set, ok := r.cache.Get(userID, tenantID); ok {
			return set, nil
		}
		gen = r.cache.Generation()
	}

	set, err := r.resolve(ctx, userID, tenantID)
	if err != nil {
		r.logger.Error("permission resolution failed", "user_id", userID, "tenant_id", tenantID, "error", err)
		return PermissionSet{}, err
	}

	if r.cache != nil && !r.cache.PutIfCurrent(userID, tenantID, set, gen) {
		r.logger.Debug("permission set invalidated during resolution", "user_id", userID, "tenant_id", tenantID)
	}

	return set, nil
}

func (r *PermissionResolver) resolve(ctx context.Context, userID, tenantID int64) (PermissionSet, error) {
	superAdmin, err := r.repo.IsSuperAdmin(ctx, userID)
	if err != nil {
		return PermissionSet{}, infraError(err, "failed to load super-admin flag")
	}

	if superAdmin {
		catalog, err := r.repo.ListPermissionCodes(ctx)
		if err != nil {
			return PermissionSet{}, infraError(err, "failed to load permission catalog")
		}
		return AllPermissions(catalog...), nil
	}

	assignments, err := r.repo.ListRoleAssignments(ctx, userID)
	if err != nil {
		return PermissionSet{}, infraError(err, "failed to load role assignments")
	}

	roleIDs := applicableRoles(assignments, tenantID)
	effective := map[string]struct{}{}

	if len(roleIDs) > 0 {
		grants, err := r.repo.ListRoleGrants(ctx, roleIDs)
		if err != nil {
			return PermissionSet{}, infraError(err, "failed to load role grants")
		}

		overrides, err := r.repo.ListTenantRoleOverrides(ctx, tenantID, roleIDs)
		if err != nil {
			return PermissionSet{}, infraError(err, "failed to load tenant role overrides")
		}

		byRole := make(map[int64][]RoleOverride, len(roleIDs))
		for _, o := range overrides {
			byRole[o.RoleID] = append(byRole[o.RoleID], o)
		}

		for _, roleID := range roleIDs {
			contribution := make(map[string]struct{}, len(grants[roleID]))
			for _, code := range grants[roleID] {
				contribution[code] = struct{}{}
			}
			for _, o := range byRole[roleID] {
				if o.Enabled {
					contribution[o.Code] = struct{}{}
				} else {
					delete(contribution, o.Code)
				}
			}
			for code := range contribution {
				effective[code] = struct{}{}
			}
		}
	}

	userOverrides, err := r.repo.ListUserPermissionOverrides(ctx, userID, tenantID)
	if err != nil {
		return PermissionSet{}, infraError(err, "failed to load user permission overrides")
	}

	for _, o := range userOverrides {
		if o.Allowed {
			effective[o.Code] = struct{}{}
		} else {
			delete(effective, o.Code)
		}
	}

	return PermissionSet{codes: effective}, nil
}

func applicableRoles(assignments []RoleAssignment, tenantID int64) []int64 {
	seen := map[int64]struct{}{}
	var roles []int64
	for _, a := range assignments {
		if !a.AppliesTo(tenantID) {
			continue
		}
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		roles = append(roles, a.RoleID)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Check reports whether code is granted. Unknown codes are not granted.
func (r *PermissionResolver) Check(ctx context.Context, userID, tenantID int64, code string) (bool, error) {
	set, err := r.Resolve(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	return set.Has(code), nil
}

// CheckAny reports whether at least one of codes is granted.
func (r *PermissionResolver) CheckAny(ctx context.Context, userID, tenantID int64, codes ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if set.Has(code) {
			return true, nil
		}
	}
	return false, nil
}

// CheckAll reports whether every one of codes is granted. An empty list is
// granted.
func (r *PermissionResolver) CheckAll(ctx context.Context, userID, tenantID int64, codes ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if !set.Has(code) {
			return false, nil
		}
	}
	return true, nil
}

// Require returns ErrForbidden when code is not granted.
func (r *PermissionResolver) Require(ctx context.Context, userID, tenantID int64, code string) error {
	ok, err := r.Check(ctx, userID, tenantID, code)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Debug("permission denied", "user_id", userID, "tenant_id", tenantID, "code", code)
		return ErrForbidden
	}
	return nil
}

package auth_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/stretchr/testify/mock"
)

const (
	testSigningKey = "test-signing-key-0123456789-abcdefghijklmnop"
	testPepper     = "test-pepper-0123456789-abcdefghijklmnopqrstu"
)

func testSettings() auth.Settings {
	s := auth.DefaultSettings()
	s.SigningKey = testSigningKey
	s.PasswordPepper = testPepper
	s.ArgonMemoryKiB = 1024
	s.ArgonIterations = 1
	s.ArgonParallelism = 1
	return s
}

// MockLogger implements auth.Logger
type MockLogger struct {
	mu    sync.Mutex
	lines []string
}

func (m *MockLogger) record(level, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, level+" "+fmt.Sprint(append([]any{format}, args...)...))
}

func (m *MockLogger) Debug(format string, args ...any) { m.record("DBG", format, args...) }
func (m *MockLogger) Info(format string, args ...any)  { m.record("INF", format, args...) }
func (m *MockLogger) Warn(format string, args ...any)  { m.record("WRN", format, args...) }
func (m *MockLogger) Error(format string, args ...any) { m.record("ERR", format, args...) }

func (m *MockLogger) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// MockCredentialRepository implements auth.CredentialRepository
type MockCredentialRepository struct {
	mock.Mock
}

func (m *MockCredentialRepository) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	args := m.Called(ctx, identifier)
	if u, ok := args.Get(0).(*auth.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCredentialRepository) FindByID(ctx context.Context, userID int64) (*auth.User, error) {
	args := m.Called(ctx, userID)
	if u, ok := args.Get(0).(*auth.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCredentialRepository) IncrementFailedAttempts(ctx context.Context, userID int64, at time.Time) (int, error) {
	args := m.Called(ctx, userID, at)
	return args.Int(0), args.Error(1)
}

func (m *MockCredentialRepository) ResetFailedAttempts(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCredentialRepository) RecordSuccessfulLogin(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *MockCredentialRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string, clearForceChange bool) error {
	args := m.Called(ctx, userID, hash, clearForceChange)
	return args.Error(0)
}

// MockVersionStore implements auth.PermissionVersionStore
type MockVersionStore struct {
	mock.Mock
}

func (m *MockVersionStore) CurrentPermissionVersion(ctx context.Context, tenantID int64) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVersionStore) BumpPermissionVersion(ctx context.Context, tenantID int64) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVersionStore) BumpAllPermissionVersions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// memoryUsers is an in-memory auth.CredentialRepository
type memoryUsers struct {
	mu    sync.Mutex
	users map[int64]*auth.User
	err   error
}

func newMemoryUsers(users ...*auth.User) *memoryUsers {
	m := &memoryUsers{users: map[int64]*auth.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUsers) get(id int64) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.users[id]
	return &cp
}

func (m *memoryUsers) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrIdentityNotFound
}

func (m *memoryUsers) FindByID(ctx context.Context, userID int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) IncrementFailedAttempts(_ context.Context, userID int64, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.FailedLoginAttempts++
	u.LastFailedLoginAt = &at
	return u.FailedLoginAttempts, nil
}

func (m *memoryUsers) ResetFailedAttempts(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].FailedLoginAttempts = 0
	return nil
}

func (m *memoryUsers) RecordSuccessfulLogin(_ context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.FailedLoginAttempts = 0
	u.LastLoginAt = &at
	return nil
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, userID int64, hash string, clearForceChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = hash
	if clearForceChange {
		u.ForcePasswordChange = false
	}
	return nil
}

// memoryVersions is an in-memory auth.PermissionVersionStore
type memoryVersions struct {
	mu       sync.Mutex
	versions map[int64]int64
	err      error
}

func newMemoryVersions(tenants ...int64) *memoryVersions {
	m := &memoryVersions{versions: map[int64]int64{}}
	for _, t := range tenants {
		m.versions[t] = 1
	}
	return m
}

func (m *memoryVersions) CurrentPermissionVersion(ctx context.Context, tenantID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	v, ok := m.versions[tenantID]
	if !ok {
		return 0, auth.ErrTenantNotFound
	}
	return v, nil
}

func (m *memoryVersions) BumpPermissionVersion(_ context.Context, tenantID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.versions[tenantID]; !ok {
		return 0, auth.ErrTenantNotFound
	}
	m.versions[tenantID]++
	return m.versions[tenantID], nil
}

func (m *memoryVersions) BumpAllPermissionVersions(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.versions {
		m.versions[t]++
	}
	return nil
}

type roleOverrideKey struct {
	tenant int64
	role   int64
	code   string
}

type userOverrideKey struct {
	user   int64
	tenant int64
	code   string
}

// memoryPermissions implements both permission repository interfaces
type memoryPermissions struct {
	mu            sync.Mutex
	catalog       map[string]bool
	superAdmins   map[int64]bool
	assignments   map[int64][]auth.RoleAssignment
	grants        map[int64]map[string]bool
	roleOverrides map[roleOverrideKey]bool
	userOverrides map[userOverrideKey]bool
	calls         int
	err           error
}

func newMemoryPermissions(codes ...string) *memoryPermissions {
	m := &memoryPermissions{
		catalog:       map[string]bool{},
		superAdmins:   map[int64]bool{},
		assignments:   map[int64][]auth.RoleAssignment{},
		grants:        map[int64]map[string]bool{},
		roleOverrides: map[roleOverrideKey]bool{},
		userOverrides: map[userOverrideKey]bool{},
	}
	for _, c := range codes {
		m.catalog[c] = true
	}
	return m
}

func (m *memoryPermissions) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.superAdmins[userID], nil
}

func (m *memoryPermissions) ListPermissionCodes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for c := range m.catalog {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryPermissions) ListRoleAssignments(_ context.Context, userID int64) ([]auth.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.RoleAssignment(nil), m.assignments[userID]...), nil
}

func (m *memoryPermissions) ListRoleGrants(_ context.Context, roleIDs []int64) (map[int64][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64][]string{}
	for _, r := range roleIDs {
		for c := range m.grants[r] {
			out[r] = append(out[r], c)
		}
	}
	return out, nil
}

func (m *memoryPermissions) ListTenantRoleOverrides(_ context.Context, tenantID int64, roleIDs []int64) ([]auth.RoleOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[int64]bool{}
	for _, r := range roleIDs {
		wanted[r] = true
	}
	var out []auth.RoleOverride
	for k, enabled := range m.roleOverrides {
		if k.tenant == tenantID && wanted[k.role] {
			out = append(out, auth.RoleOverride{RoleID: k.role, Code: k.code, Enabled: enabled})
		}
	}
	return out, nil
}

func (m *memoryPermissions) ListUserPermissionOverrides(_ context.Context, userID, tenantID int64) ([]auth.PermissionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.PermissionOverride
	for k, allowed := range m.userOverrides {
		if k.user == userID && k.tenant == tenantID {
			out = append(out, auth.PermissionOverride{Code: k.code, Allowed: allowed})
		}
	}
	return out, nil
}

func (m *memoryPermissions) checkCode(code string) error {
	if !m.catalog[code] {
		return auth.ErrPermissionNotFound
	}
	return nil
}

func (m *memoryPermissions) AssignRole(_ context.Context, userID, roleID int64, tenantID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[userID] = append(m.assignments[userID], auth.RoleAssignment{RoleID: roleID, TenantID: tenantID})
	return nil
}

func (m *memoryPermissions) UnassignRole(_ context.Context, userID, roleID int64, tenantID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []auth.RoleAssignment
	for _, a := range m.assignments[userID] {
		sameScope := (a.TenantID == nil && tenantID == nil) ||
			(a.TenantID != nil && tenantID != nil && *a.TenantID == *tenantID)
		if a.RoleID == roleID && sameScope {
			continue
		}
		kept = append(kept, a)
	}
	m.assignments[userID] = kept
	return nil
}

func (m *memoryPermissions) SetUserPermissionOverride(_ context.Context, userID, tenantID int64, code string, allowed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCode(code); err != nil {
		return err
	}
	m.userOverrides[userOverrideKey{userID, tenantID, code}] = allowed
	return nil
}

func (m *memoryPermissions) ClearUserPermissionOverride(_ context.Context, userID, tenantID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userOverrides, userOverrideKey{userID, tenantID, code})
	return nil
}

func (m *memoryPermissions) SetTenantRoleOverride(_ context.Context, tenantID, roleID int64, code string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCode(code); err != nil {
		return err
	}
	m.roleOverrides[roleOverrideKey{tenantID, roleID, code}] = enabled
	return nil
}

func (m *memoryPermissions) ClearTenantRoleOverride(_ context.Context, tenantID, roleID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roleOverrides, roleOverrideKey{tenantID, roleID, code})
	return nil
}

func (m *memoryPermissions) GrantRolePermission(_ context.Context, roleID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCode(code); err != nil {
		return err
	}
	if m.grants[roleID] == nil {
		m.grants[roleID] = map[string]bool{}
	}
	m.grants[roleID][code] = true
	return nil
}

func (m *memoryPermissions) RevokeRolePermission(_ context.Context, roleID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants[roleID], code)
	return nil
}

// memoryAudit records failed login attempts
type memoryAudit struct {
	mu       sync.Mutex
	attempts []auth.FailedLoginAttempt
}

func (m *memoryAudit) RecordFailedLogin(_ context.Context, attempt auth.FailedLoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *memoryAudit) reasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a.Reason)
	}
	return out
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func int64Ptr(v int64) *int64 {
	return &v
}

package jwtware_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-franchise-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-franchise-auth/middleware/jwtware"
)

const (
	tenantID int64 = 7
	aliceID  int64 = 10
	editorID int64 = 1
)

type versions map[int64]int64

func (v versions) CurrentPermissionVersion(_ context.Context, tenantID int64) (int64, error) {
	pv, ok := v[tenantID]
	if !ok {
		return 0, auth.ErrTenantNotFound
	}
	return pv, nil
}

func (v versions) BumpPermissionVersion(_ context.Context, tenantID int64) (int64, error) {
	v[tenantID]++
	return v[tenantID], nil
}

func (v versions) BumpAllPermissionVersions(_ context.Context) error {
	for id := range v {
		v[id]++
	}
	return nil
}

// editorPermissions grants every user the editor role with post_view only.
type editorPermissions struct{}

func (editorPermissions) IsSuperAdmin(context.Context, int64) (bool, error) { return false, nil }

func (editorPermissions) ListPermissionCodes(context.Context) ([]string, error) {
	return []string{"post_edit", "post_view"}, nil
}

func (editorPermissions) ListRoleAssignments(context.Context, int64) ([]auth.RoleAssignment, error) {
	return []auth.RoleAssignment{{RoleID: editorID}}, nil
}

func (editorPermissions) ListRoleGrants(context.Context, []int64) (map[int64][]string, error) {
	return map[int64][]string{editorID: {"post_view"}}, nil
}

func (editorPermissions) ListTenantRoleOverrides(context.Context, int64, []int64) ([]auth.RoleOverride, error) {
	return nil, nil
}

func (editorPermissions) ListUserPermissionOverrides(context.Context, int64, int64) ([]auth.PermissionOverride, error) {
	return nil, nil
}

type fixture struct {
	versions versions
	tokens   *auth.TokenService
	resolver *auth.PermissionResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	settings := auth.DefaultSettings()
	settings.SigningKey = "jwtware-test-signing-key-0123456789abcdef"
	settings.PasswordPepper = "pepper"

	v := versions{tenantID: 1}
	tokens, err := auth.NewTokenService(settings, v, auth.NewMemoryRefreshTokenRegistry())
	require.NoError(t, err)

	return &fixture{
		versions: v,
		tokens:   tokens,
		resolver: auth.NewPermissionResolver(editorPermissions{}),
	}
}

func (f *fixture) accessToken(t *testing.T) string {
	t.Helper()
	pair, err := f.tokens.IssuePair(context.Background(), auth.IssueRequest{UserID: aliceID, TenantID: tenantID})
	require.NoError(t, err)
	return pair.AccessToken
}

func (f *fixture) app(cfg jwtware.Config, handlers ...fiber.Handler) *fiber.App {
	cfg.TokenValidator = f.tokens
	cfg.Resolver = f.resolver

	app := fiber.New()
	chain := append([]fiber.Handler{jwtware.New(cfg)}, handlers...)
	chain = append(chain, func(c *fiber.Ctx) error {
		session, ok := auth.SessionFromContext(c.UserContext())
		if !ok {
			return c.SendString("anonymous")
		}
		local, ok := jwtware.SessionFrom(c, "session")
		if !ok || local != session {
			return c.SendStatus(http.StatusTeapot)
		}
		claims, ok := auth.GetClaims(c.UserContext())
		if !ok {
			return c.SendStatus(http.StatusTeapot)
		}
		return c.JSON(fiber.Map{"user_id": session.UserID, "tenant_id": session.TenantID, "jti": claims.ID})
	})
	app.Get("/protected", chain...)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{})

	status, body := do(t, app, bearer(f.accessToken(t)))
	require.Equal(t, http.StatusOK, status, body)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, float64(aliceID), out["user_id"])
	assert.Equal(t, float64(tenantID), out["tenant_id"])
	assert.NotEmpty(t, out["jti"])
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "TOKEN_MISSING")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc")
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{})

	status, body := do(t, app, bearer("not.a.jwt"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, auth.TextCodeTokenMalformed)

	pair, err := f.tokens.IssuePair(context.Background(), auth.IssueRequest{UserID: aliceID, TenantID: tenantID})
	require.NoError(t, err)
	status, body = do(t, app, bearer(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, status, "refresh tokens are not access tokens")
	assert.Contains(t, body, auth.TextCodeTokenMalformed)
}

func TestMiddlewareRejectsStaleToken(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{})
	token := f.accessToken(t)

	f.versions[tenantID]++

	status, body := do(t, app, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, auth.TextCodeStalePermissions)
}

func TestMiddlewareOptional(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{Optional: true})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "anonymous", body)

	status, _ = do(t, app, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMiddlewareFilterSkips(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{Filter: func(*fiber.Ctx) bool { return true }})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "anonymous", body)
}

func TestMiddlewareRequiredPermissions(t *testing.T) {
	f := newFixture(t)

	status, _ := do(t, f.app(jwtware.Config{RequiredPermissions: []string{"post_view"}}), bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusOK, status)

	status, body := do(t, f.app(jwtware.Config{RequiredPermissions: []string{"post_edit"}}), bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body, auth.TextCodeForbidden)
}

func TestRequirePermissionHandlers(t *testing.T) {
	f := newFixture(t)

	app := f.app(jwtware.Config{}, jwtware.RequirePermission(nil, "post_view"))
	status, _ := do(t, app, bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusOK, status)

	app = f.app(jwtware.Config{}, jwtware.RequirePermission(nil, "post_view", "post_edit"))
	status, _ = do(t, app, bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusForbidden, status)

	app = f.app(jwtware.Config{}, jwtware.RequireAnyPermission(nil, "post_edit", "post_view"))
	status, _ = do(t, app, bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusOK, status)

	app = f.app(jwtware.Config{}, jwtware.RequireAnyPermission(nil, "post_edit"))
	status, _ = do(t, app, bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusForbidden, status)

	bare := fiber.New()
	bare.Get("/protected", jwtware.RequirePermission(nil, "post_view"), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	status, _ = do(t, bare, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestValidationListenerCanReject(t *testing.T) {
	f := newFixture(t)
	var seen int64
	app := f.app(jwtware.Config{
		ValidationListeners: []jwtware.ValidationListener{
			func(_ *fiber.Ctx, claims *auth.TokenClaims) error {
				seen = claims.UserID
				return auth.ErrForbidden
			},
		},
	})

	status, _ := do(t, app, bearer(f.accessToken(t)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, aliceID, seen)
}

func TestCustomTokenLookup(t *testing.T) {
	f := newFixture(t)
	app := f.app(jwtware.Config{TokenLookup: "query:token,cookie:jwt"})
	token := f.accessToken(t)

	status, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil))
	assert.Equal(t, http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGetDefaultConfigPanicsWithoutValidator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.GetDefaultConfig(jwtware.Config{})
	})

	f := newFixture(t)
	assert.Panics(t, func() {
		jwtware.GetDefaultConfig(jwtware.Config{TokenValidator: f.tokens})
	})

	cfg := jwtware.GetDefaultConfig(jwtware.Config{TokenValidator: f.tokens, Resolver: f.resolver})
	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "session", cfg.SessionKey)
	assert.Equal(t, "Bearer", cfg.AuthScheme)
	assert.Equal(t, "header:Authorization", cfg.TokenLookup)
}

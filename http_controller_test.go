package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-franchise-auth/middleware/jwtware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	*authFixture
	app *fiber.App
}

func newAPIFixture(t *testing.T, opts ...auth.AuthControllerOption) *apiFixture {
	t.Helper()
	f := newAuthFixture(t)

	opts = append([]auth.AuthControllerOption{auth.WithControllerLogger(&MockLogger{})}, opts...)
	controller := auth.NewAuthController(f.authn, opts...)

	guard := jwtware.Config{
		TokenValidator: f.tokens,
		Resolver:       f.authn.Resolver(),
		ErrorHandler:   controller.ErrorHandler,
	}
	optional := guard
	optional.Optional = true

	app := fiber.New(fiber.Config{ErrorHandler: controller.ErrorHandler})
	auth.RegisterAuthRoutes(app, controller, auth.RouteGuards{
		Protected: jwtware.New(guard),
		Optional:  jwtware.New(optional),
	})

	return &apiFixture{authFixture: f, app: app}
}

type apiResponse struct {
	status int
	body   map[string]any
	header http.Header
}

func (r apiResponse) textCode() string {
	errBody, _ := r.body["error"].(map[string]any)
	code, _ := errBody["text_code"].(string)
	return code
}

func (f *apiFixture) call(t *testing.T, method, path, token string, payload any) apiResponse {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	out := apiResponse{status: res.StatusCode, header: res.Header, body: map[string]any{}}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (f *apiFixture) apiLogin(t *testing.T) apiResponse {
	t.Helper()
	res := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": "alice",
		"password":   alicePassword,
		"device_id":  "phone",
	})
	require.Equal(t, http.StatusOK, res.status, res.body)
	return res
}

func TestHTTPLogin(t *testing.T) {
	f := newAPIFixture(t)

	res := f.apiLogin(t)
	assert.Equal(t, "Bearer", res.body["token_type"])
	assert.NotEmpty(t, res.body["access_token"])
	assert.NotEmpty(t, res.body["refresh_token"])
	assert.Equal(t, float64(aliceID), res.body["user_id"])
	assert.Equal(t, float64(tenantSeven), res.body["tenant_id"])
	assert.Equal(t, false, res.body["force_password_change"])
}

func TestHTTPLoginCollapsesPrincipalErrors(t *testing.T) {
	f := newAPIFixture(t)

	unknown := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "nobody", "password": "x"})
	wrong := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "alice", "password": "x"})

	assert.Equal(t, http.StatusUnauthorized, unknown.status)
	assert.Equal(t, http.StatusUnauthorized, wrong.status)
	assert.Equal(t, auth.TextCodeInvalidCreds, unknown.textCode())
	assert.Equal(t, auth.TextCodeInvalidCreds, wrong.textCode())
	assert.Equal(t, "Bearer", wrong.header.Get("WWW-Authenticate"))

	reasons := f.audit.reasons()
	assert.Equal(t, []string{"USER_NOT_FOUND", "INVALID_PASSWORD"}, reasons)
}

func TestHTTPLoginDisclosesPrincipalErrorsWhenConfigured(t *testing.T) {
	settings := testSettings()
	settings.DisclosePrincipalErrors = true
	f := newAPIFixture(t, auth.WithControllerConfig(settings))

	res := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "nobody", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.TextCodeUserNotFound, res.textCode())
}

func TestHTTPLoginValidation(t *testing.T) {
	f := newAPIFixture(t)

	res := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, auth.TextCodeValidation, res.textCode())

	errBody := res.body["error"].(map[string]any)
	assert.NotEmpty(t, errBody["validation_errors"])
	assert.Empty(t, f.audit.reasons())
}

func TestHTTPLoginLockedAccount(t *testing.T) {
	f := newAPIFixture(t)
	f.users.users[aliceID].Status = auth.UserStatusLocked

	res := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "alice", "password": alicePassword})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, auth.TextCodeAccountLocked, res.textCode())
}

func TestHTTPLoginStoreFailureIsGeneric(t *testing.T) {
	f := newAPIFixture(t)
	f.users.err = errors.New("dial tcp 10.0.0.5:5432: connection refused")

	res := f.call(t, http.MethodPost, "/auth/login", "", map[string]string{"identifier": "alice", "password": alicePassword})
	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.Equal(t, auth.TextCodeInfrastructure, res.textCode())

	errBody := res.body["error"].(map[string]any)
	assert.NotContains(t, errBody, "source")
	assert.NotContains(t, errBody["message"], "10.0.0.5")
}

func TestHTTPRefresh(t *testing.T) {
	f := newAPIFixture(t)
	login := f.apiLogin(t)
	refresh := login.body["refresh_token"].(string)

	res := f.call(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.NotEqual(t, refresh, res.body["refresh_token"])

	replay := f.call(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, replay.status)
	assert.Equal(t, auth.TextCodeTokenRevoked, replay.textCode())

	missing := f.call(t, http.MethodPost, "/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, missing.status)
}

func TestHTTPLogout(t *testing.T) {
	f := newAPIFixture(t)
	login := f.apiLogin(t)
	refresh := login.body["refresh_token"].(string)

	res := f.call(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, res.status)

	again := f.call(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, again.status)

	empty := f.call(t, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, empty.status)

	replay := f.call(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, replay.status)
}

func TestHTTPLogoutByJTI(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	login := f.apiLogin(t)
	access := login.body["access_token"].(string)
	jti := tokenJTI(t, f.tokens, login.body["refresh_token"].(string))

	other, err := f.tokens.IssuePair(ctx, auth.IssueRequest{UserID: bobID, TenantID: tenantSeven})
	require.NoError(t, err)

	anonymous := f.call(t, http.MethodPost, "/auth/logout", "", map[string]string{"jti": jti})
	assert.Equal(t, http.StatusNoContent, anonymous.status)
	record, err := f.registry.Lookup(ctx, jti)
	require.NoError(t, err)
	assert.False(t, record.Revoked)

	foreign := f.call(t, http.MethodPost, "/auth/logout", access, map[string]string{"jti": other.RefreshClaims.ID})
	assert.Equal(t, http.StatusNoContent, foreign.status)
	record, err = f.registry.Lookup(ctx, other.RefreshClaims.ID)
	require.NoError(t, err)
	assert.False(t, record.Revoked)

	own := f.call(t, http.MethodPost, "/auth/logout", access, map[string]string{"jti": jti})
	assert.Equal(t, http.StatusNoContent, own.status)
	record, err = f.registry.Lookup(ctx, jti)
	require.NoError(t, err)
	assert.True(t, record.Revoked)
}

func TestHTTPLogoutDeviceWithSession(t *testing.T) {
	f := newAPIFixture(t)
	login := f.apiLogin(t)
	access := login.body["access_token"].(string)
	refresh := login.body["refresh_token"].(string)

	res := f.call(t, http.MethodPost, "/auth/logout", access, map[string]string{"device_id": "phone"})
	assert.Equal(t, http.StatusNoContent, res.status)

	record, err := f.registry.Lookup(context.Background(), tokenJTI(t, f.tokens, refresh))
	require.NoError(t, err)
	assert.True(t, record.Revoked)
}

func TestHTTPLogoutAll(t *testing.T) {
	f := newAPIFixture(t)
	first := f.apiLogin(t)
	f.apiLogin(t)

	unauth := f.call(t, http.MethodPost, "/auth/logout-all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, unauth.status)

	res := f.call(t, http.MethodPost, "/auth/logout-all", first.body["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, float64(2), res.body["revoked"])
}

func TestHTTPPermissions(t *testing.T) {
	f := newAPIFixture(t)
	login := f.apiLogin(t)
	access := login.body["access_token"].(string)

	res := f.call(t, http.MethodGet, "/auth/permissions", access, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, float64(tenantSeven), res.body["tenant_id"])
	assert.Equal(t, []any{"post_view"}, res.body["permissions"])
	assert.Equal(t, false, res.body["super_admin"])

	_, err := f.versions.BumpPermissionVersion(context.Background(), tenantSeven)
	require.NoError(t, err)

	stale := f.call(t, http.MethodGet, "/auth/permissions", access, nil)
	assert.Equal(t, http.StatusUnauthorized, stale.status)
	assert.Equal(t, auth.TextCodeStalePermissions, stale.textCode())
}

func TestErrorHandlerFiberErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: auth.NewErrorHandler(&MockLogger{})})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.ErrBadRequest
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func tokenJTI(t *testing.T, tokens *auth.TokenService, token string) string {
	t.Helper()
	claims, err := tokens.Inspect(token)
	require.NoError(t, err)
	return claims.ID
}

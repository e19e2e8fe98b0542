package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`

	AccessClaims  *TokenClaims `json:"-"`
	RefreshClaims *TokenClaims `json:"-"`
}

// IssueRequest identifies who a token is minted for.
type IssueRequest struct {
	UserID   int64
	TenantID int64
	DeviceID *string
}

// TokenService mints, validates, rotates and revokes tokens.
type TokenService struct {
	signingKey       []byte
	method           jwt.SigningMethod
	issuer           string
	audience         jwt.ClaimStrings
	accessTTL        time.Duration
	refreshTTL       time.Duration
	platformTenantID int64
	versions         PermissionVersionStore
	registry         RefreshTokenRegistry
	metrics          *Metrics
	logger           Logger
	now              func() time.Time
	random           io.Reader
}

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		ts.logger = normalizeLogger(logger)
	}
}

// WithTokenClock replaces the time source used to mint and validate.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

func WithTokenMetrics(metrics *Metrics) TokenServiceOption {
	return func(ts *TokenService) {
		ts.metrics = metrics
	}
}

// NewTokenService fails when the signing key is missing or the method is not
// an HMAC method.
func NewTokenService(cfg Config, versions PermissionVersionStore, registry RefreshTokenRegistry, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg.GetSigningKey() == "" {
		return nil, ErrMissingSecret
	}

	methodName := cfg.GetSigningMethod()
	if methodName == "" {
		methodName = DefaultSigningMethod
	}

	method, ok := jwt.GetSigningMethod(methodName).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, ErrUnsupportedSigningMethod
	}

	accessTTL := cfg.GetAccessTokenTTL()
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	refreshTTL := cfg.GetRefreshTokenTTL()
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	ts := &TokenService{
		signingKey:       []byte(cfg.GetSigningKey()),
		method:           method,
		issuer:           cfg.GetIssuer(),
		audience:         cfg.GetAudience(),
		accessTTL:        accessTTL,
		refreshTTL:       refreshTTL,
		platformTenantID: cfg.GetPlatformTenantID(),
		versions:         versions,
		registry:         registry,
		logger:           defLogger{},
		now:              time.Now,
		random:           rand.Reader,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// AccessTTL is the configured access token lifetime.
func (ts *TokenService) AccessTTL() time.Duration {
	return ts.accessTTL
}

// CurrentVersion returns the authoritative permission-version for tenantID.
// The platform tenant is always version 0.
func (ts *TokenService) CurrentVersion(ctx context.Context, tenantID int64) (int64, error) {
	if tenantID == ts.platformTenantID {
		return 0, nil
	}
	v, err := ts.versions.CurrentPermissionVersion(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return 0, err
		}
		return 0, infraError(err, "failed to read permission version")
	}
	return v, nil
}

// Issue mints a single token. Refresh tokens are registered before they are
// returned.
func (ts *TokenService) Issue(ctx context.Context, req IssueRequest, kind TokenKind) (string, *TokenClaims, error) {
	if !kind.Valid() {
		return "", nil, goerrors.New("unknown token kind", goerrors.CategoryBadInput)
	}

	pv, err := ts.CurrentVersion(ctx, req.TenantID)
	if err != nil {
		return "", nil, err
	}

	token, claims, err := ts.mint(req, kind, pv, ts.now())
	if err != nil {
		return "", nil, err
	}

	if kind == TokenKindRefresh {
		if err := ts.registry.Store(ctx, recordFromClaims(claims)); err != nil {
			ts.logger.Error("failed to register refresh token", "user_id", req.UserID, "error", err)
			return "", nil, infraError(err, "failed to register refresh token")
		}
	}

	return token, claims, nil
}

// IssuePair mints an access and refresh token sharing one permission-version
// snapshot and registers the refresh token.
func (ts *TokenService) IssuePair(ctx context.Context, req IssueRequest) (*TokenPair, error) {
	pv, err := ts.CurrentVersion(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	pair, err := ts.mintPair(req, pv)
	if err != nil {
		return nil, err
	}

	if err := ts.registry.Store(ctx, recordFromClaims(pair.RefreshClaims)); err != nil {
		ts.logger.Error("failed to register refresh token", "user_id", req.UserID, "error", err)
		return nil, infraError(err, "failed to register refresh token")
	}

	return pair, nil
}

// Validate checks signature, algorithm, expiry and kind. Refresh tokens must
// be registered and active. Every token must carry the tenant's current
// permission-version.
func (ts *TokenService) Validate(ctx context.Context, tokenString string, expected TokenKind) (*TokenClaims, error) {
	claims, err := ts.validate(ctx, tokenString, expected)
	ts.metrics.observeValidation(expected, err)
	return claims, err
}

func (ts *TokenService) validate(ctx context.Context, tokenString string, expected TokenKind) (*TokenClaims, error) {
	claims, err := ts.parse(tokenString, true)
	if err != nil {
		return nil, err
	}

	if claims.Kind != expected {
		ts.logger.Debug("token kind mismatch", "expected", expected, "got", claims.Kind)
		return nil, ErrTokenMalformed
	}

	if expected == TokenKindRefresh {
		if err := ts.checkRegistry(ctx, claims); err != nil {
			return nil, err
		}
	}

	current, err := ts.CurrentVersion(ctx, claims.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, ErrStalePermissions
		}
		return nil, err
	}

	if claims.PermissionVersion != current {
		ts.logger.Debug("stale permission version", "tenant_id", claims.TenantID, "token_pv", claims.PermissionVersion, "current_pv", current)
		return nil, ErrStalePermissions
	}

	return claims, nil
}

func (ts *TokenService) checkRegistry(ctx context.Context, claims *TokenClaims) error {
	record, err := ts.registry.Lookup(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return ErrTokenRevoked
		}
		ts.logger.Error("refresh token lookup failed", "error", err)
		return infraError(err, "failed to look up refresh token")
	}

	if record.UserID != claims.UserID || record.TenantID != claims.TenantID {
		return ErrTokenMalformed
	}

	if record.Revoked {
		return ErrTokenRevoked
	}

	if record.IsExpired(ts.now()) {
		return ErrTokenExpired
	}

	return nil
}

// Inspect verifies the signature and algorithm but skips expiry, registry
// and permission-version checks. Logout uses it to find the jti of tokens
// that may already be expired or stale.
func (ts *TokenService) Inspect(tokenString string) (*TokenClaims, error) {
	return ts.parse(tokenString, false)
}

func (ts *TokenService) parse(tokenString string, validateClaims bool) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}

	if validateClaims {
		opts = append(opts, jwt.WithExpirationRequired())
		if ts.issuer != "" {
			opts = append(opts, jwt.WithIssuer(ts.issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("unexpected signing method", "alg", t.Header["alg"])
			return nil, ErrUnsupportedSigningMethod
		}
		return ts.signingKey, nil
	}, opts...)

	if err != nil {
		if validateClaims && errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.ID == "" || !claims.Kind.Valid() {
		return nil, ErrTokenMalformed
	}

	if validateClaims && !ts.acceptsAudience(claims.Audience) {
		ts.logger.Warn("token audience rejected", "aud", claims.Audience, "jti", claims.ID)
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// acceptsAudience passes when no audience is configured or when aud shares at
// least one entry with the configured list.
func (ts *TokenService) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		if slices.Contains(aud, want) {
			return true
		}
	}
	return false
}

// Rotate exchanges a valid refresh token for a new pair bound to the same
// user, tenant and device. The old jti is revoked atomically with the new
// record being stored, a second rotation of the same token fails with
// ErrTokenRevoked.
func (ts *TokenService) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	old, err := ts.Validate(ctx, refreshToken, TokenKindRefresh)
	if err != nil {
		ts.metrics.observeRotation(err)
		return nil, err
	}

	pair, err := ts.mintPair(IssueRequest{
		UserID:   old.UserID,
		TenantID: old.TenantID,
		DeviceID: old.DeviceID,
	}, old.PermissionVersion)
	if err != nil {
		ts.metrics.observeRotation(err)
		return nil, err
	}

	if err := ts.registry.Rotate(ctx, old.ID, recordFromClaims(pair.RefreshClaims)); err != nil {
		ts.metrics.observeRotation(err)
		if errors.Is(err, ErrTokenRevoked) {
			ts.logger.Warn("refresh token replayed", "user_id", old.UserID, "jti", old.ID)
			return nil, ErrTokenRevoked
		}
		ts.logger.Error("refresh token rotation failed", "user_id", old.UserID, "error", err)
		return nil, infraError(err, "failed to rotate refresh token")
	}

	ts.metrics.observeRotation(nil)
	return pair, nil
}

// Revoke marks jti revoked. Unknown jti values are ignored.
func (ts *TokenService) Revoke(ctx context.Context, jti string) error {
	if err := ts.registry.RevokeByJTI(ctx, jti); err != nil {
		return infraError(err, "failed to revoke refresh token")
	}
	return nil
}

// RevokeOwned revokes jti only when its record belongs to userID and returns
// that record. Unknown jti values and records of other users return nil
// without error.
func (ts *TokenService) RevokeOwned(ctx context.Context, jti string, userID int64) (*RefreshTokenRecord, error) {
	record, err := ts.registry.Lookup(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, nil
		}
		ts.logger.Error("refresh token lookup failed", "error", err)
		return nil, infraError(err, "failed to look up refresh token")
	}

	if record.UserID != userID {
		ts.logger.Warn("revoke of foreign refresh token refused", "user_id", userID, "owner_id", record.UserID, "jti", jti)
		return nil, nil
	}

	if err := ts.Revoke(ctx, jti); err != nil {
		return nil, err
	}
	return record, nil
}

// RevokeAll revokes every refresh token of userID, or only those bound to
// deviceID when it is not empty.
func (ts *TokenService) RevokeAll(ctx context.Context, userID int64, deviceID string) (int64, error) {
	var (
		n   int64
		err error
	)
	if deviceID == "" {
		n, err = ts.registry.RevokeAllForUser(ctx, userID)
	} else {
		n, err = ts.registry.RevokeAllForUserDevice(ctx, userID, deviceID)
	}
	if err != nil {
		return 0, infraError(err, "failed to revoke refresh tokens")
	}
	return n, nil
}

func (ts *TokenService) mintPair(req IssueRequest, pv int64) (*TokenPair, error) {
	now := ts.now()

	access, accessClaims, err := ts.mint(req, TokenKindAccess, pv, now)
	if err != nil {
		return nil, err
	}

	refresh, refreshClaims, err := ts.mint(req, TokenKindRefresh, pv, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		TokenType:     "Bearer",
		ExpiresIn:     int64(ts.accessTTL / time.Second),
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

func (ts *TokenService) mint(req IssueRequest, kind TokenKind, pv int64, now time.Time) (string, *TokenClaims, error) {
	jti, err := ts.newJTI()
	if err != nil {
		return "", nil, err
	}

	ttl := ts.accessTTL
	if kind == TokenKindRefresh {
		ttl = ts.refreshTTL
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    ts.issuer,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:            req.UserID,
		TenantID:          req.TenantID,
		PermissionVersion: pv,
		DeviceID:          req.DeviceID,
		Kind:              kind,
	}
	claims.Subject = claims.UserIDString()

	signed, err := jwt.NewWithClaims(ts.method, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, claims, nil
}

func (ts *TokenService) newJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(ts.random, buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token id")
	}
	return hex.EncodeToString(buf), nil
}

func recordFromClaims(claims *TokenClaims) *RefreshTokenRecord {
	return &RefreshTokenRecord{
		ID:        uuid.New(),
		JTI:       claims.ID,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		DeviceID:  claims.DeviceID,
		ExpiresAt: claims.Expires(),
	}
}

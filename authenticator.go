package auth

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// LoginStatus is the terminal state of a login attempt
type LoginStatus string

const (
	LoginStatusSuccess          LoginStatus = "SUCCESS"
	LoginStatusUserNotFound     LoginStatus = "USER_NOT_FOUND"
	LoginStatusInvalidPassword  LoginStatus = "INVALID_PASSWORD"
	LoginStatusAccountLocked    LoginStatus = "ACCOUNT_LOCKED"
	LoginStatusAccountInactive  LoginStatus = "ACCOUNT_INACTIVE"
	LoginStatusAccountSuspended LoginStatus = "ACCOUNT_SUSPENDED"
	LoginStatusSessionError     LoginStatus = "SESSION_ERROR"
	LoginStatusDatabaseError    LoginStatus = "DATABASE_ERROR"
	LoginStatusValidationError  LoginStatus = "VALIDATION_ERROR"
)

// IsPrincipalFailure reports whether the status reveals which of identifier
// or password was wrong.
func (s LoginStatus) IsPrincipalFailure() bool {
	return s == LoginStatusUserNotFound || s == LoginStatusInvalidPassword
}

// Credentials is the login input. SourceAddress and UserAgent are only used
// for the failed-attempt audit trail.
type Credentials struct {
	Identifier    string `json:"identifier"`
	Password      string `json:"password"`
	DeviceID      string `json:"device_id,omitempty"`
	SourceAddress string `json:"-"`
	UserAgent     string `json:"-"`
}

// Validate will run validation rules
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Identifier, validation.Required, validation.Length(1, 255)),
		validation.Field(&c.Password, validation.Required, validation.Length(1, 1024)),
		validation.Field(&c.DeviceID, validation.Length(0, 128)),
	)
}

// LoginResult is returned for every expected login outcome. Failure holds
// the typed error matching Status when Status is not SUCCESS.
type LoginResult struct {
	Status              LoginStatus
	Failure             error
	Tokens              *TokenPair
	User                *User
	Session             *SessionContext
	ForcePasswordChange bool
}

// OK reports a successful login
func (r *LoginResult) OK() bool {
	return r != nil && r.Status == LoginStatusSuccess
}

// LogoutRequest revokes a refresh token by value or jti. When DeviceID is
// set and the context carries a session, every token of that device is
// revoked instead.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	JTI          string `json:"jti,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
}

// Authenticator drives login, logout, refresh and password change.
type Authenticator struct {
	users            CredentialRepository
	hasher           *PasswordHasher
	tokens           *TokenService
	resolver         *PermissionResolver
	audit            FailedLoginRecorder
	activitySink     ActivitySink
	metrics          *Metrics
	logger           Logger
	lockoutThreshold int
	lockoutCooldown  time.Duration
	now              func() time.Time
}

// NewAuthenticator wires the login state machine.
func NewAuthenticator(cfg Config, users CredentialRepository, hasher *PasswordHasher, tokens *TokenService, resolver *PermissionResolver) *Authenticator {
	threshold := cfg.GetLockoutThreshold()
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}

	return &Authenticator{
		users:            users,
		hasher:           hasher,
		tokens:           tokens,
		resolver:         resolver,
		activitySink:     noopActivitySink{},
		logger:           defLogger{},
		lockoutThreshold: threshold,
		lockoutCooldown:  cfg.GetLockoutCooldown(),
		now:              time.Now,
	}
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	a.logger = normalizeLogger(logger)
	return a
}

// WithActivitySink configures the sink that receives activity events
func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.activitySink = normalizeActivitySink(sink)
	return a
}

// WithFailedLoginRecorder configures where failed attempts are audited
func (a *Authenticator) WithFailedLoginRecorder(recorder FailedLoginRecorder) *Authenticator {
	a.audit = recorder
	return a
}

func (a *Authenticator) WithMetrics(metrics *Metrics) *Authenticator {
	a.metrics = metrics
	return a
}

// WithClock replaces the time source
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	if now != nil {
		a.now = now
	}
	return a
}

// TokenService returns the token service used by the authenticator
func (a *Authenticator) TokenService() *TokenService {
	return a.tokens
}

// Resolver returns the permission resolver used for sessions
func (a *Authenticator) Resolver() *PermissionResolver {
	return a.resolver
}

// Login runs the login state machine. Expected failures are reported in the
// result with a nil error. A non nil error means an infrastructure failure;
// the result then carries DATABASE_ERROR or SESSION_ERROR.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	result, err := a.login(ctx, creds)
	a.metrics.observeLogin(result.Status)
	return result, err
}

func (a *Authenticator) login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if err := creds.Validate(); err != nil {
		a.logger.Debug("login validation failed", "error", err)
		return &LoginResult{
			Status:  LoginStatusValidationError,
			Failure: validationError(err),
		}, nil
	}

	user, err := a.users.FindByIdentifier(ctx, creds.Identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return a.fail(ctx, creds, nil, LoginStatusUserNotFound, ErrIdentityNotFound), nil
		}
		a.logger.Error("login identifier lookup failed", "error", err)
		return a.fail(ctx, creds, nil, LoginStatusDatabaseError, nil), infraError(err, "failed to look up identity")
	}

	now := a.now()
	attempts, err := a.effectiveAttempts(ctx, user, now)
	if err != nil {
		a.logger.Error("login attempt counter reset failed", "user_id", user.ID, "error", err)
		return a.fail(ctx, creds, user, LoginStatusDatabaseError, nil), infraError(err, "failed to reset login attempts")
	}

	ok, err := a.hasher.VerifyPassword(creds.Password, user.PasswordHash)
	if err != nil {
		a.logger.Error("password verification failed", "user_id", user.ID, "error", err)
		return a.fail(ctx, creds, user, LoginStatusDatabaseError, nil), err
	}

	if !ok {
		if _, err := a.users.IncrementFailedAttempts(ctx, user.ID, now); err != nil {
			a.logger.Error("failed to track login attempt", "user_id", user.ID, "error", err)
			return a.fail(ctx, creds, user, LoginStatusDatabaseError, nil), infraError(err, "failed to track login attempt")
		}
		return a.fail(ctx, creds, user, LoginStatusInvalidPassword, ErrInvalidPassword), nil
	}

	switch {
	case user.IsInactive():
		return a.fail(ctx, creds, user, LoginStatusAccountInactive, ErrUserInactive), nil
	case user.IsSuspended():
		return a.fail(ctx, creds, user, LoginStatusAccountSuspended, ErrUserSuspended), nil
	case user.IsLocked() || attempts >= a.lockoutThreshold:
		return a.fail(ctx, creds, user, LoginStatusAccountLocked, ErrUserLocked), nil
	}

	if err := a.users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		a.logger.Error("failed to track successful login", "user_id", user.ID, "error", err)
		return a.fail(ctx, creds, user, LoginStatusDatabaseError, nil), infraError(err, "failed to track successful login")
	}
	user.FailedLoginAttempts = 0
	user.LastLoginAt = &now

	a.maybeRehash(ctx, user, creds.Password)

	tenantID := a.resolver.HomeTenant(user)
	pair, err := a.tokens.IssuePair(ctx, IssueRequest{
		UserID:   user.ID,
		TenantID: tenantID,
		DeviceID: DeviceRef(creds.DeviceID),
	})
	if err != nil {
		a.logger.Error("failed to issue tokens", "user_id", user.ID, "tenant_id", tenantID, "error", err)
		return a.fail(ctx, creds, user, LoginStatusSessionError, nil), infraError(err, "failed to establish session")
	}

	session := SessionFromClaims(pair.AccessClaims, a.resolver)
	session.User = user

	a.logger.Info("login succeeded", "user_id", user.ID, "tenant_id", tenantID)
	emitActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		UserID:     user.ID,
		TenantID:   tenantID,
		DeviceID:   creds.DeviceID,
		OccurredAt: now,
		Metadata: map[string]any{
			"identifier": creds.Identifier,
			"source":     creds.SourceAddress,
		},
	})

	return &LoginResult{
		Status:              LoginStatusSuccess,
		Tokens:              pair,
		User:                user,
		Session:             session,
		ForcePasswordChange: user.ForcePasswordChange,
	}, nil
}

// effectiveAttempts applies the lockout cooldown. A zero cooldown never
// decays the counter.
func (a *Authenticator) effectiveAttempts(ctx context.Context, user *User, now time.Time) (int, error) {
	if a.lockoutCooldown <= 0 || user.FailedLoginAttempts == 0 || user.LastFailedLoginAt == nil {
		return user.FailedLoginAttempts, nil
	}

	if now.Sub(*user.LastFailedLoginAt) < a.lockoutCooldown {
		return user.FailedLoginAttempts, nil
	}

	if err := a.users.ResetFailedAttempts(ctx, user.ID); err != nil {
		return 0, err
	}
	user.FailedLoginAttempts = 0
	return 0, nil
}

func (a *Authenticator) maybeRehash(ctx context.Context, user *User, password string) {
	if !a.hasher.NeedsRehash(user.PasswordHash) {
		return
	}

	hash, err := a.hasher.HashPassword(password)
	if err != nil {
		a.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}

	if err := a.users.UpdatePasswordHash(ctx, user.ID, hash, false); err != nil {
		a.logger.Warn("password rehash could not be stored", "user_id", user.ID, "error", err)
		return
	}

	user.PasswordHash = hash
	a.logger.Info("password hash upgraded", "user_id", user.ID)
}

func (a *Authenticator) fail(ctx context.Context, creds Credentials, user *User, status LoginStatus, failure error) *LoginResult {
	now := a.now()

	var userID *int64
	var uid int64
	if user != nil {
		uid = user.ID
		userID = &uid
	}

	a.logger.Info("login failed", "status", status, "user_id", uid)

	if a.audit != nil {
		err := a.audit.RecordFailedLogin(ctx, FailedLoginAttempt{
			Identifier:    creds.Identifier,
			UserID:        userID,
			SourceAddress: creds.SourceAddress,
			UserAgent:     creds.UserAgent,
			Reason:        string(status),
			AttemptedAt:   now,
		})
		if err != nil {
			a.logger.Error("failed to record failed login", "status", status, "error", err)
		}
	}

	emitActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType:  ActivityEventLoginFailure,
		UserID:     uid,
		DeviceID:   creds.DeviceID,
		OccurredAt: now,
		Metadata: map[string]any{
			"identifier": creds.Identifier,
			"status":     string(status),
			"source":     creds.SourceAddress,
		},
	})

	return &LoginResult{Status: status, Failure: failure, User: user}
}

// Logout revokes the refresh token named by req and clears the session in
// ctx. A signed refresh token is proof enough on its own. A bare jti is only
// honored for the session's own tokens. Missing or invalid tokens are a
// no-op.
func (a *Authenticator) Logout(ctx context.Context, req LogoutRequest) error {
	session, hasSession := SessionFromContext(ctx)

	if req.DeviceID != "" && hasSession {
		n, err := a.tokens.RevokeAll(ctx, session.UserID, req.DeviceID)
		if err != nil {
			a.logger.Error("device logout failed", "user_id", session.UserID, "error", err)
			return err
		}
		a.metrics.observeRevocations("device", n)
		session.End()
		a.emitLogout(ctx, ActivityEventLogout, session.UserID, session.TenantID, req.DeviceID, n)
		return nil
	}

	var userID, tenantID int64
	var deviceID string

	switch {
	case req.RefreshToken != "":
		claims, err := a.tokens.Inspect(req.RefreshToken)
		if err != nil {
			a.logger.Debug("logout with unreadable token ignored", "error", err)
			break
		}
		if err := a.tokens.Revoke(ctx, claims.ID); err != nil {
			a.logger.Error("logout revoke failed", "error", err)
			return err
		}
		a.metrics.observeRevocations("token", 1)
		userID, tenantID, deviceID = claims.UserID, claims.TenantID, claims.Device()
	case req.JTI != "" && hasSession:
		record, err := a.tokens.RevokeOwned(ctx, req.JTI, session.UserID)
		if err != nil {
			a.logger.Error("logout revoke failed", "user_id", session.UserID, "error", err)
			return err
		}
		if record != nil {
			a.metrics.observeRevocations("token", 1)
			userID, tenantID = record.UserID, record.TenantID
			if record.DeviceID != nil {
				deviceID = *record.DeviceID
			}
		}
	case req.JTI != "":
		a.logger.Debug("logout by jti needs a session, ignored")
	}

	if hasSession {
		session.End()
		if userID == 0 {
			userID, tenantID = session.UserID, session.TenantID
		}
	}

	a.emitLogout(ctx, ActivityEventLogout, userID, tenantID, deviceID, 0)
	return nil
}

// LogoutAll revokes every refresh token for userID, or only those of
// deviceID when set. It returns how many tokens were revoked.
func (a *Authenticator) LogoutAll(ctx context.Context, userID int64, deviceID string) (int64, error) {
	n, err := a.tokens.RevokeAll(ctx, userID, deviceID)
	if err != nil {
		a.logger.Error("logout all failed", "user_id", userID, "error", err)
		return 0, err
	}

	scope := "user"
	if deviceID != "" {
		scope = "device"
	}
	a.metrics.observeRevocations(scope, n)

	if cache := a.resolver.Cache(); cache != nil {
		cache.InvalidateUser(userID)
	}

	var tenantID int64
	if session, ok := SessionFromContext(ctx); ok {
		tenantID = session.TenantID
	}

	a.emitLogout(ctx, ActivityEventLogoutAll, userID, tenantID, deviceID, n)
	return n, nil
}

func (a *Authenticator) emitLogout(ctx context.Context, event ActivityEventType, userID, tenantID int64, deviceID string, revoked int64) {
	emitActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: event,
		UserID:    userID,
		TenantID:  tenantID,
		DeviceID:  deviceID,
		Metadata: map[string]any{
			"revoked": revoked,
		},
	})
}

// Refresh rotates refreshToken. The new pair keeps the user, tenant and
// device binding of the old token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := a.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if IsInfrastructureError(err) {
			a.logger.Error("token refresh failed", "error", err)
		} else {
			a.logger.Debug("token refresh rejected", "error", err)
		}
		return nil, err
	}

	claims := pair.AccessClaims
	emitActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		DeviceID:  claims.Device(),
	})

	return pair, nil
}

// ChangePassword verifies the current password, enforces strength rules,
// stores the new hash and revokes every refresh token of the user.
func (a *Authenticator) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return infraError(err, "failed to load user")
	}

	ok, err := a.hasher.VerifyPassword(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPassword
	}

	if violations := ValidatePasswordStrength(next); len(violations) > 0 {
		return WeakPasswordError(violations)
	}

	hash, err := a.hasher.HashPassword(next)
	if err != nil {
		return err
	}

	if err := a.users.UpdatePasswordHash(ctx, userID, hash, true); err != nil {
		a.logger.Error("failed to store password hash", "user_id", userID, "error", err)
		return infraError(err, "failed to store password")
	}

	n, err := a.tokens.RevokeAll(ctx, userID, "")
	if err != nil {
		return err
	}
	a.metrics.observeRevocations("user", n)

	emitActivity(ctx, a.activitySink, a.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		UserID:    userID,
		TenantID:  a.resolver.HomeTenant(user),
		Metadata: map[string]any{
			"revoked": n,
		},
	})

	return nil
}

// ErrorForStatus returns the typed error for a failed status.
func ErrorForStatus(status LoginStatus) error {
	switch status {
	case LoginStatusUserNotFound:
		return ErrIdentityNotFound
	case LoginStatusInvalidPassword:
		return ErrInvalidPassword
	case LoginStatusAccountInactive:
		return ErrUserInactive
	case LoginStatusAccountSuspended:
		return ErrUserSuspended
	case LoginStatusAccountLocked:
		return ErrUserLocked
	case LoginStatusValidationError:
		return ErrValidation
	case LoginStatusSuccess:
		return nil
	}
	return goerrors.New("authentication unavailable", goerrors.CategoryInternal).
		WithTextCode(string(status)).
		WithCode(goerrors.CodeInternal)
}

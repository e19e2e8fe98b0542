package auth

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUserNotFound      = "USER_NOT_FOUND"
	TextCodeInvalidPassword   = "INVALID_PASSWORD"
	TextCodeInvalidCreds      = "INVALID_CREDENTIALS"
	TextCodeAccountInactive   = "ACCOUNT_INACTIVE"
	TextCodeAccountSuspended  = "ACCOUNT_SUSPENDED"
	TextCodeAccountLocked     = "ACCOUNT_LOCKED"
	TextCodeTokenMalformed    = "TOKEN_MALFORMED"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenRevoked      = "TOKEN_REVOKED"
	TextCodeStalePermissions  = "STALE_PERMISSIONS"
	TextCodeForbidden         = "FORBIDDEN"
	TextCodeValidation        = "VALIDATION_ERROR"
	TextCodeWeakPassword      = "WEAK_PASSWORD"
	TextCodeMalformedHash     = "MALFORMED_PASSWORD_HASH"
	TextCodeRefreshNotFound   = "REFRESH_TOKEN_NOT_FOUND"
	TextCodeTenantNotFound    = "TENANT_NOT_FOUND"
	TextCodePermissionUnknown = "PERMISSION_NOT_FOUND"
	TextCodeMissingSecret     = "MISSING_SECRET"
	TextCodeInfrastructure    = "INFRASTRUCTURE_ERROR"
	TextCodeInvalidSigningAlg = "INVALID_SIGNING_METHOD"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidPassword is returned when the password does not match the stored hash
var ErrInvalidPassword = goerrors.New("invalid password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials replaces ErrIdentityNotFound and ErrInvalidPassword
// at the HTTP boundary unless principal errors are disclosed.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

var ErrUserInactive = goerrors.New("account is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

var ErrUserSuspended = goerrors.New("account is suspended", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountSuspended).
	WithCode(goerrors.CodeForbidden)

var ErrUserLocked = goerrors.New("account is locked", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

// ErrTokenMalformed covers bad signatures, unexpected algorithms, unparsable
// payloads and tokens presented as the wrong kind.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrStalePermissions is returned when the token permission-version no
// longer matches the tenant's current version.
var ErrStalePermissions = goerrors.New("token permissions are stale", goerrors.CategoryAuth).
	WithTextCode(TextCodeStalePermissions).
	WithCode(goerrors.CodeUnauthorized)

var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(http.StatusUnprocessableEntity)

var ErrWeakPassword = goerrors.New("password does not meet strength requirements", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(http.StatusUnprocessableEntity)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryBadInput).
	WithTextCode(TextCodeValidation).
	WithCode(http.StatusUnprocessableEntity)

// ErrMalformedPasswordHash is returned when a stored hash cannot be decoded.
var ErrMalformedPasswordHash = goerrors.New("stored password hash is malformed", goerrors.CategoryInternal).
	WithTextCode(TextCodeMalformedHash).
	WithCode(goerrors.CodeInternal)

var ErrRefreshTokenNotFound = goerrors.New("refresh token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRefreshNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrTenantNotFound = goerrors.New("tenant not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTenantNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrPermissionNotFound is returned by admin writes naming an unknown code.
var ErrPermissionNotFound = goerrors.New("permission not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePermissionUnknown).
	WithCode(goerrors.CodeNotFound)

var ErrMissingSecret = goerrors.New("required secret is missing", goerrors.CategoryValidation).
	WithTextCode(TextCodeMissingSecret).
	WithCode(goerrors.CodeInternal)

var ErrUnsupportedSigningMethod = goerrors.New("unsupported signing method", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidSigningAlg).
	WithCode(goerrors.CodeInternal)

// ErrUnableToFindSession is returned when a request carries no session
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(goerrors.CodeUnauthorized)

// infraError wraps a storage or registry failure. Callers must fail closed.
// Errors that are already internal are returned unchanged.
func infraError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr.Category == goerrors.CategoryInternal {
		return err
	}

	wrapped := goerrors.New(msg, goerrors.CategoryInternal).
		WithTextCode(TextCodeInfrastructure).
		WithCode(goerrors.CodeInternal)
	wrapped.Source = err
	return wrapped
}

// validationError converts ozzo field errors into a go-errors validation
// error carrying one entry per field.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	var fields validation.Errors
	if !errors.As(err, &fields) {
		return ErrValidation
	}

	messages := make(map[string]string, len(fields))
	for field, fieldErr := range fields {
		if fieldErr != nil {
			messages[field] = fieldErr.Error()
		}
	}

	return goerrors.NewValidationFromMap("invalid input", messages).
		WithTextCode(TextCodeValidation).
		WithCode(http.StatusUnprocessableEntity)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return err != nil && errors.Is(err, ErrTokenExpired)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return err != nil && errors.Is(err, ErrTokenMalformed)
}

// IsTokenError reports whether err belongs to the token error family.
func IsTokenError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{ErrTokenMalformed, ErrTokenExpired, ErrTokenRevoked, ErrStalePermissions} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInfrastructureError reports whether err must surface as a generic
// server failure. Unknown errors are treated as infrastructure errors.
func IsInfrastructureError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return true
	}
	return richErr.Category == goerrors.CategoryInternal
}

// StatusCodeFromError maps an error to the HTTP status used at the boundary.
func StatusCodeFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		if richErr.Code == http.StatusForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// TextCodeFromError returns the text code carried by err, if any.
func TextCodeFromError(err error) string {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return TextCodeInfrastructure
}

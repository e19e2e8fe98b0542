package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-franchise-auth"
	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      auth.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      auth.ErrIdentityNotFound,
			expected: false,
		},
		{
			name:     "Plain error",
			err:      errors.New("token is expired"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsTokenError(t *testing.T) {
	assert.True(t, auth.IsTokenError(auth.ErrTokenMalformed))
	assert.True(t, auth.IsTokenError(auth.ErrTokenRevoked))
	assert.True(t, auth.IsTokenError(auth.ErrStalePermissions))
	assert.True(t, auth.IsMalformedError(auth.ErrTokenMalformed))
	assert.False(t, auth.IsTokenError(auth.ErrForbidden))
	assert.False(t, auth.IsTokenError(nil))
}

func TestIsInfrastructureError(t *testing.T) {
	assert.False(t, auth.IsInfrastructureError(nil))
	assert.True(t, auth.IsInfrastructureError(context.DeadlineExceeded))
	assert.True(t, auth.IsInfrastructureError(goerrors.Wrap(errors.New("db down"), goerrors.CategoryInternal, "lookup failed")))
	assert.False(t, auth.IsInfrastructureError(auth.ErrInvalidPassword))
	assert.False(t, auth.IsInfrastructureError(auth.ErrTokenRevoked))
}

func TestStatusCodeFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"identity not found", auth.ErrIdentityNotFound, http.StatusUnauthorized},
		{"invalid password", auth.ErrInvalidPassword, http.StatusUnauthorized},
		{"locked", auth.ErrUserLocked, http.StatusForbidden},
		{"suspended", auth.ErrUserSuspended, http.StatusForbidden},
		{"token expired", auth.ErrTokenExpired, http.StatusUnauthorized},
		{"stale permissions", auth.ErrStalePermissions, http.StatusUnauthorized},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden},
		{"validation", auth.ErrValidation, http.StatusUnprocessableEntity},
		{"weak password", auth.ErrWeakPassword, http.StatusUnprocessableEntity},
		{"not found", auth.ErrPermissionNotFound, http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped internal", goerrors.Wrap(errors.New("boom"), goerrors.CategoryInternal, "x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.StatusCodeFromError(tt.err))
		})
	}
}

func TestErrorForStatus(t *testing.T) {
	assert.Nil(t, auth.ErrorForStatus(auth.LoginStatusSuccess))
	assert.ErrorIs(t, auth.ErrorForStatus(auth.LoginStatusAccountLocked), auth.ErrUserLocked)
	assert.ErrorIs(t, auth.ErrorForStatus(auth.LoginStatusUserNotFound), auth.ErrIdentityNotFound)

	err := auth.ErrorForStatus(auth.LoginStatusDatabaseError)
	assert.True(t, auth.IsInfrastructureError(err))
	assert.Equal(t, "DATABASE_ERROR", auth.TextCodeFromError(err))
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Users implements auth.CredentialRepository on bun.
type Users struct {
	db  bun.IDB
	now func() time.Time
}

var _ auth.CredentialRepository = (*Users)(nil)

func NewUsers(db bun.IDB) *Users {
	return &Users{db: db, now: time.Now}
}

// Create inserts user and fills its generated id. Emails are stored lower
// cased, usernames as given.
func (u *Users) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	user.EnsureStatus()
	user.Email = normalizeEmail(user.Email)
	if _, err := u.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByIdentifier matches the username exactly or the email case
// insensitively. When one user's username equals another user's email the
// username match wins.
func (u *Users) FindByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, auth.ErrIdentityNotFound
	}

	record := &auth.User{}
	err := u.db.NewSelect().
		Model(record).
		Where("?TableAlias.username = ? OR LOWER(?TableAlias.email) = ?", trimmed, normalizeEmail(trimmed)).
		OrderExpr("CASE WHEN ?TableAlias.username = ? THEN 0 ELSE 1 END", trimmed).
		OrderExpr("?TableAlias.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, err
	}

	return record, nil
}

func (u *Users) FindByID(ctx context.Context, userID int64) (*auth.User, error) {
	record := &auth.User{}
	err := u.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, err
	}
	return record, nil
}

// IncrementFailedAttempts bumps the counter in the database so concurrent
// failures are not lost, then reads the new value back.
func (u *Users) IncrementFailedAttempts(ctx context.Context, userID int64, at time.Time) (int, error) {
	var attempts int
	err := u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*auth.User)(nil)).
			Set("failed_login_attempts = failed_login_attempts + 1").
			Set("last_failed_login_at = ?", at.UTC()).
			Where("id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectAffected(res, auth.ErrIdentityNotFound); err != nil {
			return err
		}

		return tx.NewSelect().
			Model((*auth.User)(nil)).
			Column("failed_login_attempts").
			Where("id = ?", userID).
			Scan(ctx, &attempts)
	})
	return attempts, err
}

func (u *Users) ResetFailedAttempts(ctx context.Context, userID int64) error {
	_, err := u.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("failed_login_attempts = 0").
		Set("last_failed_login_at = NULL").
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (u *Users) RecordSuccessfulLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := u.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("last_login_at = ?", at.UTC()).
		Set("failed_login_attempts = 0").
		Set("last_failed_login_at = NULL").
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (u *Users) UpdatePasswordHash(ctx context.Context, userID int64, hash string, clearForceChange bool) error {
	q := u.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", u.now().UTC()).
		Where("id = ?", userID)

	if clearForceChange {
		q = q.Set("force_password_change = ?", false)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, auth.ErrIdentityNotFound)
}

// SetStatus changes the account status, used by operators.
func (u *Users) SetStatus(ctx context.Context, userID int64, status auth.UserStatus) error {
	res, err := u.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", u.now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectAffected(res, auth.ErrIdentityNotFound)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

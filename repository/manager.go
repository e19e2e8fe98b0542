package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager exposes all stores backed by one database.
type Manager interface {
	repository.Validator
	repository.TransactionManager
	Users() *Users
	Tenants() *Tenants
	Permissions() *Permissions
	RefreshTokens() *RefreshTokens
	FailedLogins() *FailedLogins
}

type mngr struct {
	db            *bun.DB
	users         *Users
	tenants       *Tenants
	permissions   *Permissions
	refreshTokens *RefreshTokens
	failedLogins  *FailedLogins
}

func NewManager(db *bun.DB, opts ...RefreshTokensOption) Manager {
	return &mngr{
		db:            db,
		users:         NewUsers(db),
		tenants:       NewTenants(db),
		permissions:   NewPermissions(db),
		refreshTokens: NewRefreshTokens(db, opts...),
		failedLogins:  NewFailedLogins(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.users == nil || m.tenants == nil || m.permissions == nil {
		return errors.New("repository stores should be initialized")
	}

	if m.refreshTokens == nil || m.failedLogins == nil {
		return errors.New("repository token stores should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() *Users {
	return m.users
}

func (m mngr) Tenants() *Tenants {
	return m.tenants
}

func (m mngr) Permissions() *Permissions {
	return m.permissions
}

func (m mngr) RefreshTokens() *RefreshTokens {
	return m.refreshTokens
}

func (m mngr) FailedLogins() *FailedLogins {
	return m.failedLogins
}

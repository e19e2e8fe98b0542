package repository

import (
	"context"
	"errors"
	"time"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewRefreshTokenRecordsRepository is the generic repository for refresh
// token rows, looked up by jti.
func NewRefreshTokenRecordsRepository(db *bun.DB) repository.Repository[*auth.RefreshTokenRecord] {
	handlers := repository.ModelHandlers[*auth.RefreshTokenRecord]{
		NewRecord: func() *auth.RefreshTokenRecord {
			return &auth.RefreshTokenRecord{}
		},
		GetID: func(record *auth.RefreshTokenRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *auth.RefreshTokenRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "jti"
		},
	}
	return repository.NewRepository(db, handlers)
}

// RefreshTokens implements auth.RefreshTokenRegistry.
type RefreshTokens struct {
	records repository.Repository[*auth.RefreshTokenRecord]
	db      *bun.DB
	now     func() time.Time
}

var _ auth.RefreshTokenRegistry = (*RefreshTokens)(nil)

type RefreshTokensOption func(*RefreshTokens)

// WithRefreshTokensClock replaces the time source
func WithRefreshTokensClock(now func() time.Time) RefreshTokensOption {
	return func(r *RefreshTokens) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRefreshTokens(db *bun.DB, opts ...RefreshTokensOption) *RefreshTokens {
	r := &RefreshTokens{
		records: NewRefreshTokenRecordsRepository(db),
		db:      db,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RefreshTokens) Store(ctx context.Context, record *auth.RefreshTokenRecord) error {
	return r.store(ctx, r.db, record)
}

func (r *RefreshTokens) store(ctx context.Context, tx bun.IDB, record *auth.RefreshTokenRecord) error {
	prepareRefreshRecord(record)
	_, err := r.records.CreateTx(ctx, tx, record)
	return err
}

func (r *RefreshTokens) Lookup(ctx context.Context, jti string) (*auth.RefreshTokenRecord, error) {
	return r.lookup(ctx, r.db, jti)
}

func (r *RefreshTokens) lookup(ctx context.Context, tx bun.IDB, jti string) (*auth.RefreshTokenRecord, error) {
	record, err := r.records.GetByIdentifierTx(ctx, tx, jti)
	if err != nil {
		if isNotFound(err) {
			return nil, auth.ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return record, nil
}

// RevokeByJTI ignores unknown and already revoked tokens.
func (r *RefreshTokens) RevokeByJTI(ctx context.Context, jti string) error {
	_, err := r.revoke(r.db.NewUpdate(), "").
		Where("jti = ?", jti).
		Where("revoked = ?", false).
		Exec(ctx)
	return err
}

func (r *RefreshTokens) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return r.revokeActive(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ?", userID)
	})
}

func (r *RefreshTokens) RevokeAllForUserDevice(ctx context.Context, userID int64, deviceID string) (int64, error) {
	return r.revokeActive(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("user_id = ?", userID).Where("device_id = ?", deviceID)
	})
}

// revokeActive selects unrevoked rows, keeps those not yet expired and
// revokes them in the same transaction.
func (r *RefreshTokens) revokeActive(ctx context.Context, scope func(*bun.SelectQuery) *bun.SelectQuery) (int64, error) {
	var revoked int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []auth.RefreshTokenRecord
		q := tx.NewSelect().Model(&rows).Where("?TableAlias.revoked = ?", false)
		if err := scope(q).Scan(ctx); err != nil && !isNotFound(err) {
			return err
		}

		now := r.now()
		jtis := make([]string, 0, len(rows))
		for i := range rows {
			if rows[i].IsActive(now) {
				jtis = append(jtis, rows[i].JTI)
			}
		}
		if len(jtis) == 0 {
			return nil
		}

		res, err := r.revoke(tx.NewUpdate(), "").
			Where("jti IN (?)", bun.In(jtis)).
			Where("revoked = ?", false).
			Exec(ctx)
		if err != nil {
			return err
		}
		revoked, err = res.RowsAffected()
		return err
	})
	return revoked, err
}

// Rotate revokes oldJTI and stores next in one transaction. The conditional
// update only succeeds for one caller, concurrent rotations of the same
// token get auth.ErrTokenRevoked.
func (r *RefreshTokens) Rotate(ctx context.Context, oldJTI string, next *auth.RefreshTokenRecord) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		old, err := r.lookup(ctx, tx, oldJTI)
		if err != nil {
			if errors.Is(err, auth.ErrRefreshTokenNotFound) {
				return auth.ErrTokenRevoked
			}
			return err
		}
		if !old.IsActive(r.now()) {
			return auth.ErrTokenRevoked
		}

		res, err := r.revoke(tx.NewUpdate(), next.JTI).
			Where("jti = ?", oldJTI).
			Where("revoked = ?", false).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectAffected(res, auth.ErrTokenRevoked); err != nil {
			return err
		}

		return r.store(ctx, tx, next)
	})
}

func (r *RefreshTokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*auth.RefreshTokenRecord)(nil)).
		Where("expires_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RefreshTokens) revoke(q *bun.UpdateQuery, replacedBy string) *bun.UpdateQuery {
	q = q.Model((*auth.RefreshTokenRecord)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", r.now().UTC())
	if replacedBy != "" {
		q = q.Set("replaced_by = ?", replacedBy)
	}
	return q
}

func prepareRefreshRecord(record *auth.RefreshTokenRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
}

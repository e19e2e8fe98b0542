package repository

import (
	"context"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func NewFailedLoginAttemptsRepository(db *bun.DB) repository.Repository[*auth.FailedLoginAttempt] {
	handlers := repository.ModelHandlers[*auth.FailedLoginAttempt]{
		NewRecord: func() *auth.FailedLoginAttempt {
			return &auth.FailedLoginAttempt{}
		},
		GetID: func(record *auth.FailedLoginAttempt) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *auth.FailedLoginAttempt, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "identifier"
		},
	}
	return repository.NewRepository(db, handlers)
}

// FailedLogins implements auth.FailedLoginRecorder.
type FailedLogins struct {
	records repository.Repository[*auth.FailedLoginAttempt]
	db      *bun.DB
}

var _ auth.FailedLoginRecorder = (*FailedLogins)(nil)

func NewFailedLogins(db *bun.DB) *FailedLogins {
	return &FailedLogins{
		records: NewFailedLoginAttemptsRepository(db),
		db:      db,
	}
}

func (f *FailedLogins) RecordFailedLogin(ctx context.Context, attempt auth.FailedLoginAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	attempt.AttemptedAt = attempt.AttemptedAt.UTC()
	_, err := f.records.CreateTx(ctx, f.db, &attempt)
	return err
}

// Recent returns the latest attempts for identifier, newest first.
func (f *FailedLogins) Recent(ctx context.Context, identifier string, limit int) ([]auth.FailedLoginAttempt, error) {
	var rows []auth.FailedLoginAttempt
	q := f.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.identifier = ?", identifier).
		Order("attempted_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !isNotFound(err) {
		return nil, err
	}
	return rows, nil
}

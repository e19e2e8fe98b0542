package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRefreshTokenRegistry is a process local RefreshTokenRegistry. It is
// meant for tests and single node deployments.
type MemoryRefreshTokenRegistry struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
	now     func() time.Time
}

func NewMemoryRefreshTokenRegistry() *MemoryRefreshTokenRegistry {
	return &MemoryRefreshTokenRegistry{
		records: make(map[string]*RefreshTokenRecord),
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (m *MemoryRefreshTokenRegistry) WithClock(now func() time.Time) *MemoryRefreshTokenRegistry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryRefreshTokenRegistry) Store(ctx context.Context, record *RefreshTokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(record)
}

func (m *MemoryRefreshTokenRegistry) store(record *RefreshTokenRecord) error {
	if _, exists := m.records[record.JTI]; exists {
		return ErrTokenRevoked
	}
	cp := *record
	m.records[record.JTI] = &cp
	return nil
}

func (m *MemoryRefreshTokenRegistry) Lookup(ctx context.Context, jti string) (*RefreshTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[jti]
	if !ok {
		return nil, ErrRefreshTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRefreshTokenRegistry) RevokeByJTI(ctx context.Context, jti string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[jti]; ok {
		m.revoke(rec, "")
	}
	return nil
}

func (m *MemoryRefreshTokenRegistry) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return m.revokeWhere(ctx, func(r *RefreshTokenRecord) bool {
		return r.UserID == userID
	})
}

func (m *MemoryRefreshTokenRegistry) RevokeAllForUserDevice(ctx context.Context, userID int64, deviceID string) (int64, error) {
	return m.revokeWhere(ctx, func(r *RefreshTokenRecord) bool {
		return r.UserID == userID && r.DeviceID != nil && *r.DeviceID == deviceID
	})
}

func (m *MemoryRefreshTokenRegistry) revokeWhere(ctx context.Context, match func(*RefreshTokenRecord) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for _, rec := range m.records {
		if !rec.IsActive(now) || !match(rec) {
			continue
		}
		m.revoke(rec, "")
		n++
	}
	return n, nil
}

func (m *MemoryRefreshTokenRegistry) Rotate(ctx context.Context, oldJTI string, next *RefreshTokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.records[oldJTI]
	if !ok || !old.IsActive(m.now()) {
		return ErrTokenRevoked
	}

	if err := m.store(next); err != nil {
		return err
	}
	m.revoke(old, next.JTI)
	return nil
}

func (m *MemoryRefreshTokenRegistry) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for jti, rec := range m.records {
		if rec.ExpiresAt.Before(before) {
			delete(m.records, jti)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRefreshTokenRegistry) revoke(rec *RefreshTokenRecord, replacedBy string) {
	if rec.Revoked {
		return
	}
	at := m.now()
	rec.Revoked = true
	rec.RevokedAt = &at
	if replacedBy != "" {
		rec.ReplacedBy = replacedBy
	}
}

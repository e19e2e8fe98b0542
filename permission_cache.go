package auth

import (
	"sync"
	"time"
)

// PermissionCacheKey identifies one cached resolution.
type PermissionCacheKey struct {
	UserID   int64
	TenantID int64
}

type permissionCacheEntry struct {
	set      PermissionSet
	storedAt time.Time
}

// PermissionCache is a process local TTL cache of resolved permission sets.
// It is never shared across nodes.
//
// Every invalidation advances a generation counter. A resolver snapshots it
// with Generation before reading the store and writes back with PutIfCurrent,
// so a set computed before an invalidation is never cached after it.
type PermissionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[PermissionCacheKey]permissionCacheEntry
	now     func() time.Time

	gen     uint64
	allGen  uint64
	userGen map[int64]uint64
	keyGen  map[PermissionCacheKey]uint64
}

// NewPermissionCache creates a cache. A non positive ttl uses
// DefaultPermissionCacheTTL.
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionCacheTTL
	}
	return &PermissionCache{
		ttl:     ttl,
		entries: make(map[PermissionCacheKey]permissionCacheEntry),
		now:     time.Now,
		userGen: make(map[int64]uint64),
		keyGen:  make(map[PermissionCacheKey]uint64),
	}
}

// WithClock replaces the time source, used in tests.
func (c *PermissionCache) WithClock(now func() time.Time) *PermissionCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns a hit only while the entry is younger than the TTL. Expired
// entries are evicted.
func (c *PermissionCache) Get(userID, tenantID int64) (PermissionSet, bool) {
	key := PermissionCacheKey{UserID: userID, TenantID: tenantID}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return PermissionSet{}, false
	}

	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return PermissionSet{}, false
	}

	return entry.set, true
}

// Put overwrites unconditionally.
func (c *PermissionCache) Put(userID, tenantID int64, set PermissionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[PermissionCacheKey{UserID: userID, TenantID: tenantID}] = permissionCacheEntry{
		set:      set,
		storedAt: c.now(),
	}
}

// Generation returns the current invalidation counter.
func (c *PermissionCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfCurrent stores set only when no invalidation touching (userID,
// tenantID) happened after gen was taken. It reports whether it stored.
func (c *PermissionCache) PutIfCurrent(userID, tenantID int64, set PermissionSet, gen uint64) bool {
	key := PermissionCacheKey{UserID: userID, TenantID: tenantID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.allGen > gen || c.userGen[userID] > gen || c.keyGen[key] > gen {
		return false
	}

	c.entries[key] = permissionCacheEntry{set: set, storedAt: c.now()}
	return true
}

func (c *PermissionCache) Invalidate(userID, tenantID int64) {
	key := PermissionCacheKey{UserID: userID, TenantID: tenantID}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.keyGen[key] = c.gen
	delete(c.entries, key)
}

// InvalidateUser drops every entry for userID across tenants.
func (c *PermissionCache) InvalidateUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.userGen[userID] = c.gen
	for key := range c.entries {
		if key.UserID == userID {
			delete(c.entries, key)
		}
	}
}

func (c *PermissionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.allGen = c.gen
	c.entries = make(map[PermissionCacheKey]permissionCacheEntry)
	// allGen covers every older per user and per key mark
	c.userGen = make(map[int64]uint64)
	c.keyGen = make(map[PermissionCacheKey]uint64)
}

// Len includes entries that have expired but were not read since.
func (c *PermissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

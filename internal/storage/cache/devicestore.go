// --- File: internal/storage/cache/devicestore.go ---
package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a Decorator that adds Read-Aside caching to any
// device.Repository. Only the fan-out query is cached; it runs on every
// dispatched message, while the write paths run on registration events.
type CachedDeviceStore struct {
	realStore device.Repository
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedDeviceStore creates the decorator.
func NewCachedDeviceStore(realStore device.Repository, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS ---

// ActiveByUser is the Read-Aside path.
func (s *CachedDeviceStore) ActiveByUser(ctx context.Context, p device.Platform, user urn.URN) ([]*device.Device, error) {
	key := s.cacheKey(p, user)

	// 1. Try Cache
	var cached []*device.Device
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		// Cache Hit
		return cached, nil
	}

	// 2. Fallback to Real Store
	fresh, err := s.realStore.ActiveByUser(ctx, p, user)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache (Fire and Forget)
	// We ignore errors here because caching is an optimization, not a
	// transaction. If Redis is down, we just serve from the DB.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// Find is a cold path (registration conflicts, admin lookups) and always goes
// to the real store.
func (s *CachedDeviceStore) Find(ctx context.Context, p device.Platform, user urn.URN, registrationID string) (*device.Device, error) {
	return s.realStore.Find(ctx, p, user, registrationID)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Register(ctx context.Context, d *device.Device) error {
	// 1. Write to Source of Truth
	if err := s.realStore.Register(ctx, d); err != nil {
		return err
	}
	// 2. Invalidate Cache
	return s.invalidate(ctx, d.Platform, d.User)
}

// Unregister MUST clear the cache even though the DB write succeeded, so that
// delivery to the removed device stops immediately rather than at TTL expiry.
func (s *CachedDeviceStore) Unregister(ctx context.Context, p device.Platform, user urn.URN, registrationID string) error {
	if err := s.realStore.Unregister(ctx, p, user, registrationID); err != nil {
		return err
	}
	return s.invalidate(ctx, p, user)
}

// UpdateFields invalidates because field updates include deactivation, which
// changes the fan-out set.
func (s *CachedDeviceStore) UpdateFields(ctx context.Context, d *device.Device, fields ...device.Field) error {
	if err := s.realStore.UpdateFields(ctx, d, fields...); err != nil {
		return err
	}
	return s.invalidate(ctx, d.Platform, d.User)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, p device.Platform, user urn.URN) error {
	// We delete the key. The next ActiveByUser is forced to go to the DB,
	// which ensures immediate consistency for deactivations.
	return s.cache.Del(ctx, s.cacheKey(p, user))
}

func (s *CachedDeviceStore) cacheKey(p device.Platform, user urn.URN) string {
	return fmt.Sprintf("push:devices:%s:%s", p, user.String())
}

package rbac

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// Resolver answers permission questions. Resolution order is fixed:
// membership gate, then direct override, then role grant, then deny.
// A missing membership is an answer (false), never an error; only storage
// failures surface as errors.
type Resolver struct {
	store   *Store
	cache   snapshotCache
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver with an in-process snapshot cache.
// metrics may be nil.
func NewResolver(store *Store, logger *observability.Logger, metrics *observability.Metrics, cacheSize int, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		store:   store,
		cache:   newMemoryCache(cacheSize, cacheTTL),
		logger:  logger,
		metrics: metrics,
	}
}

// NewResolverWithRedis creates a resolver whose snapshot cache lives in
// Redis, shared across instances so invalidations propagate.
func NewResolverWithRedis(store *Store, logger *observability.Logger, metrics *observability.Metrics, client *redis.Client, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		store:   store,
		cache:   newRedisCache(client, cacheTTL, logger),
		logger:  logger,
		metrics: metrics,
	}
}

// snapshot loads the member snapshot through the cache. Concurrent misses
// for the same pair share one database fetch.
func (r *Resolver) snapshot(ctx context.Context, userID, orgID string) (*memberSnapshot, error) {
	if snap, ok := r.cache.get(userID, orgID); ok {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.WithLabelValues("member_snapshot").Inc()
		}
		return snap, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues("member_snapshot").Inc()
	}

	v, err, _ := r.group.Do(snapshotKey(userID, orgID), func() (interface{}, error) {
		snap, err := getMemberSnapshot(ctx, r.store.db, userID, orgID)
		if err != nil {
			return nil, err
		}
		r.cache.put(userID, orgID, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*memberSnapshot), nil
}

// resolve applies the precedence chain to one key.
func resolve(snap *memberSnapshot, key permissions.Key) bool {
	if snap == nil || !permissions.Valid(key) {
		return false
	}
	if v, ok := snap.Overrides[key]; ok {
		return v
	}
	if snap.Role != nil {
		if v, ok := snap.Role.grantValue(key); ok {
			return v
		}
	}
	return false
}

func (r *Resolver) recordCheck(key permissions.Key, allowed bool) {
	if r.metrics == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	r.metrics.PermissionChecksTotal.WithLabelValues(string(key), result).Inc()
}

// HasPermission reports whether the user holds key in the organization.
func (r *Resolver) HasPermission(ctx context.Context, userID, orgID string, key permissions.Key) (bool, error) {
	snap, err := r.snapshot(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	allowed := resolve(snap, key)
	r.recordCheck(key, allowed)
	return allowed, nil
}

// HasPermissions resolves several keys in one storage fetch.
func (r *Resolver) HasPermissions(ctx context.Context, userID, orgID string, keys []permissions.Key) (map[permissions.Key]bool, error) {
	snap, err := r.snapshot(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	results := make(map[permissions.Key]bool, len(keys))
	for _, key := range keys {
		results[key] = resolve(snap, key)
	}
	return results, nil
}

// GetUserPermissions returns the keys that resolve true for the member, in
// registry order. Override precedence applies per key: a false override
// shadows a true role grant and the key is excluded.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID, orgID string) ([]permissions.Key, error) {
	snap, err := r.snapshot(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	var granted []permissions.Key
	for _, key := range permissions.All() {
		if resolve(snap, key) {
			granted = append(granted, key)
		}
	}
	return granted, nil
}

// EffectivePermissions resolves every registered key for the member as a map.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID, orgID string) (map[permissions.Key]bool, error) {
	return r.HasPermissions(ctx, userID, orgID, permissions.All())
}

// HasAnyPermission reports whether at least one of keys resolves true.
// An empty key list is false.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID, orgID string, keys []permissions.Key) (bool, error) {
	snap, err := r.snapshot(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	for _, key := range keys {
		if resolve(snap, key) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every key resolves true. An empty key
// list is vacuously true for members; non-members always get false.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID, orgID string, keys []permissions.Key) (bool, error) {
	snap, err := r.snapshot(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	for _, key := range keys {
		if !resolve(snap, key) {
			return false, nil
		}
	}
	return true, nil
}

// CanUseApplication reports whether the member still holds the minimum
// required permission set.
func (r *Resolver) CanUseApplication(ctx context.Context, userID, orgID string) (bool, error) {
	return r.HasAllPermissions(ctx, userID, orgID, permissions.MinimumRequired())
}

// Invalidate drops one member's cached snapshot.
func (r *Resolver) Invalidate(userID, orgID string) {
	r.cache.invalidate(userID, orgID)
}

// InvalidateOrganization drops every cached snapshot for an organization.
func (r *Resolver) InvalidateOrganization(orgID string) {
	r.cache.invalidateOrg(orgID)
}

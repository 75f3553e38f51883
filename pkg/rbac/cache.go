package rbac

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// snapshotCache holds member snapshots for the resolver so repeated checks
// for the same (user, org) pair skip the database. Guard mutations
// invalidate affected entries; the TTL bounds staleness for writers that
// bypass this process. A cached nil snapshot is a valid entry: it remembers
// that the user is not a member.
type snapshotCache interface {
	get(userID, orgID string) (*memberSnapshot, bool)
	put(userID, orgID string, snap *memberSnapshot)
	invalidate(userID, orgID string)
	invalidateOrg(orgID string)
}

// memoryCache is the in-process snapshot cache, an expirable LRU.
type memoryCache struct {
	lru *expirable.LRU[string, *memberSnapshot]
}

func newMemoryCache(size int, ttl time.Duration) *memoryCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &memoryCache{
		lru: expirable.NewLRU[string, *memberSnapshot](size, nil, ttl),
	}
}

func snapshotKey(userID, orgID string) string {
	return userID + "|" + orgID
}

func (c *memoryCache) get(userID, orgID string) (*memberSnapshot, bool) {
	return c.lru.Get(snapshotKey(userID, orgID))
}

func (c *memoryCache) put(userID, orgID string, snap *memberSnapshot) {
	c.lru.Add(snapshotKey(userID, orgID), snap)
}

// invalidate drops one member's entry.
func (c *memoryCache) invalidate(userID, orgID string) {
	c.lru.Remove(snapshotKey(userID, orgID))
}

// invalidateOrg drops every cached member of an organization. Role grant
// changes affect all members holding the role, so the guard flushes the
// whole organization.
func (c *memoryCache) invalidateOrg(orgID string) {
	suffix := "|" + orgID
	for _, k := range c.lru.Keys() {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			c.lru.Remove(k)
		}
	}
}

package agentnet

import (
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// TargetCache is a per-service sticky target selection cache, consulted
// on every outbound *.internal call before a selectTarget round trip
// (§4.8 step 2). Map mutation is guarded by a single mutex; the mutex is
// never held across a selectTarget call to the orchestrator.
type TargetCache struct {
	mu      sync.Mutex
	entries map[string]types.TargetCacheEntry // serviceID -> entry
}

// NewTargetCache creates an empty target cache.
func NewTargetCache() *TargetCache {
	return &TargetCache{entries: make(map[string]types.TargetCacheEntry)}
}

// Lookup returns the cached entry for serviceID if it is still valid.
func (c *TargetCache) Lookup(serviceID string, now time.Time) (types.TargetCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[serviceID]
	if !ok || !entry.Valid(now) {
		return types.TargetCacheEntry{}, false
	}
	return entry, true
}

// Store records a freshly resolved entry, overwriting any previous one.
func (c *TargetCache) Store(entry types.TargetCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ServiceID] = entry
}

// Invalidate drops the cached entry for serviceID, e.g. after a channel
// close or deadline so the next call forces a fresh selectTarget.
func (c *TargetCache) Invalidate(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, serviceID)
}

// MarkDegraded flags the cached entry unhealthy without removing it,
// so the next Lookup treats it as a miss but Store of a fresh entry for
// the same service still lands cleanly.
func (c *TargetCache) MarkDegraded(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[serviceID]
	if !ok {
		return
	}
	entry.Health = types.HealthDegraded
	c.entries[serviceID] = entry
}

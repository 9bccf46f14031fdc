package supervisor

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// statsCache holds the most recent resource snapshot per instance id,
// so a tick that runs between two stats probes can reuse the last
// reading instead of hitting the runtime again.
type statsCache struct {
	cache *ttlcache.Cache[string, Snapshot]
}

func newStatsCache(ttl time.Duration) *statsCache {
	c := ttlcache.New(ttlcache.WithTTL[string, Snapshot](ttl))
	go c.Start()
	return &statsCache{cache: c}
}

func (s *statsCache) put(instanceID string, cpu, mem float64) {
	s.cache.Set(instanceID, Snapshot{CPUPercent: cpu, MemoryMB: mem}, ttlcache.DefaultTTL)
}

// get reports a cached reading and whether one was present and not
// expired.
func (s *statsCache) get(instanceID string) (Snapshot, bool) {
	item := s.cache.Get(instanceID, ttlcache.WithDisableTouchOnHit[string, Snapshot]())
	if item == nil {
		return Snapshot{}, false
	}
	return item.Value(), true
}

func (s *statsCache) delete(instanceID string) {
	s.cache.Delete(instanceID)
}

func (s *statsCache) stop() {
	s.cache.Stop()
}

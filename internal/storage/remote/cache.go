package remote

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// readCache keeps whole-collection reads per tenant. Concurrent misses for
// the same key and generation share one load. A write to a collection bumps
// its generation, so later reads never join a load that started before the
// write, and a load that raced with the invalidation is not stored.
type readCache struct {
	items *cache.Cache
	group singleflight.Group
	obs   CacheObserver

	mu   sync.Mutex
	gens map[string]uint64
}

func newReadCache(ttl time.Duration, obs CacheObserver) *readCache {
	return &readCache{
		items: cache.New(ttl, 2*ttl),
		obs:   obs,
		gens:  map[string]uint64{},
	}
}

func scopeKey(tenant, collection string) string {
	return tenant + "|" + collection + "|"
}

func (rc *readCache) generation(scope string) uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.gens[scope]
}

// get returns a copy of the cached records for (tenant, collection, sig),
// calling load on a miss.
func (rc *readCache) get(tenant, collection, sig string, load func() ([]storage.Record, error)) ([]storage.Record, error) {
	scope := scopeKey(tenant, collection)
	key := scope + sig

	if v, ok := rc.items.Get(key); ok {
		if rc.obs != nil {
			rc.obs.CacheHit(collection)
		}
		return storage.CloneAll(v.([]storage.Record)), nil
	}
	if rc.obs != nil {
		rc.obs.CacheMiss(collection)
	}

	gen := rc.generation(scope)
	v, err, _ := rc.group.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		recs, err := load()
		if err != nil {
			return nil, err
		}
		rc.mu.Lock()
		if rc.gens[scope] == gen {
			rc.items.Set(key, recs, cache.DefaultExpiration)
		}
		rc.mu.Unlock()
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return storage.CloneAll(v.([]storage.Record)), nil
}

// invalidate drops every cached read of collection for tenant.
func (rc *readCache) invalidate(tenant, collection string) {
	scope := scopeKey(tenant, collection)

	rc.mu.Lock()
	rc.gens[scope]++
	rc.mu.Unlock()

	for key := range rc.items.Items() {
		if strings.HasPrefix(key, scope) {
			rc.items.Delete(key)
		}
	}
}

// flush drops everything, e.g. when the signed-in user changes.
func (rc *readCache) flush() {
	rc.mu.Lock()
	for scope := range rc.gens {
		rc.gens[scope]++
	}
	rc.mu.Unlock()
	rc.items.Flush()
}

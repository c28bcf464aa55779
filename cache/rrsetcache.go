package cache

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

type rrsetKey struct {
	cacheKey
	qtype uint16
}

type rrsetValue struct {
	rrs     []dns.RR
	expires time.Time
}

// rrsetCache is the single-RRset fallback bucket (spec §6, Cache.lookup
// returning a bare RRset when no full message is cached).
type rrsetCache struct {
	mu    sync.RWMutex
	cache map[rrsetKey]rrsetValue
}

func newRRsetCache() *rrsetCache {
	return &rrsetCache{cache: make(map[rrsetKey]rrsetValue)}
}

func (r *rrsetCache) set(key cacheKey, qtype uint16, rrs []dns.RR, ttl time.Duration) {
	k := rrsetKey{cacheKey: key, qtype: qtype}
	r.mu.Lock()
	r.cache[k] = rrsetValue{rrs: rrs, expires: time.Now().Add(ttl)}
	r.mu.Unlock()
}

func (r *rrsetCache) get(key cacheKey, qtype uint16) ([]dns.RR, bool) {
	k := rrsetKey{cacheKey: key, qtype: qtype}
	r.mu.RLock()
	v, ok := r.cache[k]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(v.expires) >= 0 {
		r.mu.Lock()
		delete(r.cache, k)
		r.mu.Unlock()
		return nil, false
	}
	return v.rrs, true
}

func (r *rrsetCache) clear() {
	r.clean(time.Time{})
}

func (r *rrsetCache) clean(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.cache {
		if now.IsZero() || now.After(v.expires) {
			delete(r.cache, k)
		}
	}
}

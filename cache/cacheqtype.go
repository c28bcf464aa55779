package cache

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// cacheKey identifies a cache bucket entry by owner name and class; the
// qtype dimension is the bucket index itself (one cacheQtype per qtype).
type cacheKey struct {
	name  string
	class uint16
}

type cacheQtype struct {
	mu    sync.RWMutex
	cache map[cacheKey]cacheValue
}

func newCacheQtype() *cacheQtype {
	return &cacheQtype{cache: make(map[cacheKey]cacheValue)}
}

func (cq *cacheQtype) entries() (n int) {
	cq.mu.RLock()
	n = len(cq.cache)
	cq.mu.RUnlock()
	return
}

func (cq *cacheQtype) set(key cacheKey, msg *dns.Msg, ttl time.Duration) {
	expires := time.Now().Add(ttl)
	cq.mu.Lock()
	cq.cache[key] = cacheValue{Msg: msg, expires: expires}
	cq.mu.Unlock()
}

func (cq *cacheQtype) get(key cacheKey) *dns.Msg {
	cq.mu.RLock()
	cv := cq.cache[key]
	cq.mu.RUnlock()
	if cv.Msg != nil {
		if time.Since(cv.expires) < 0 {
			return cv.Msg
		}
		cq.mu.Lock()
		delete(cq.cache, key)
		cq.mu.Unlock()
	}
	return nil
}

func (cq *cacheQtype) clear() {
	cq.clean(time.Time{})
}

func (cq *cacheQtype) clean(now time.Time) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for key, cv := range cq.cache {
		if now.IsZero() || now.After(cv.expires) {
			delete(cq.cache, key)
		}
	}
}

// Package cache provides the message/RRset cache the resolution engine
// looks up and populates: keyed by (name, type, class), TTL-bounded, and
// safe for concurrent use across every in-flight query.
package cache

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

const DefaultMinTTL = 10 * time.Second // always cache for at least this long
const DefaultMaxTTL = 6 * time.Hour    // never cache longer than this (NS excepted)
const DefaultNXTTL = time.Hour         // NXDOMAIN cache lifetime
const MaxQtype = 260

// Cache is a bucketed-by-qtype message cache with an independent
// single-RRset fallback bucket, both keyed by (name, class).
type Cache struct {
	MinTTL time.Duration
	MaxTTL time.Duration
	NXTTL  time.Duration
	count  atomic.Uint64
	hits   atomic.Uint64
	cq     []*cacheQtype
	rr     *rrsetCache
}

// New returns an empty Cache with the default TTL bounds.
func New() *Cache {
	cq := make([]*cacheQtype, MaxQtype+1)
	for i := range cq {
		cq[i] = newCacheQtype()
	}
	return &Cache{
		MinTTL: DefaultMinTTL,
		MaxTTL: DefaultMaxTTL,
		NXTTL:  DefaultNXTTL,
		cq:     cq,
		rr:     newRRsetCache(),
	}
}

// HitRatio returns the hit ratio as a percentage.
func (c *Cache) HitRatio() (n float64) {
	if c != nil {
		if count := c.count.Load(); count > 0 {
			n = float64(c.hits.Load()*100) / float64(count)
		}
	}
	return
}

// Entries returns the number of full-message entries in the cache.
func (c *Cache) Entries() (n int) {
	if c != nil {
		for _, cq := range c.cq {
			n += cq.entries()
		}
	}
	return
}

// Insert stores msg keyed by its (sole) question section, implementing
// resolver.Cache.
func (c *Cache) Insert(msg *dns.Msg) {
	if c == nil || msg == nil || msg.Zero || len(msg.Question) != 1 {
		return
	}
	qtype := msg.Question[0].Qtype
	if qtype > MaxQtype {
		return
	}
	stored := msg.Copy()
	stored.Zero = true
	ttl := c.NXTTL
	if stored.Rcode != dns.RcodeNameError {
		ttl = max(c.MinTTL, time.Duration(minDNSMsgTTL(stored))*time.Second)
		if qtype != dns.TypeNS || stored.Rcode != dns.RcodeSuccess {
			ttl = min(c.MaxTTL, ttl)
		}
	}
	key := cacheKey{name: dns.Fqdn(stored.Question[0].Name), class: stored.Question[0].Qclass}
	c.cq[qtype].set(key, stored, ttl)
	if len(stored.Answer) > 0 {
		c.rr.set(key, qtype, append([]dns.RR(nil), stored.Answer...), ttl)
	}
}

// Lookup returns a full cached message for q, implementing resolver.Cache.
func (c *Cache) Lookup(q dns.Question) (msg *dns.Msg, ok bool) {
	if c == nil {
		return nil, false
	}
	c.count.Add(1)
	if q.Qtype > MaxQtype {
		return nil, false
	}
	key := cacheKey{name: dns.Fqdn(q.Name), class: q.Qclass}
	if msg = c.cq[q.Qtype].get(key); msg != nil {
		c.hits.Add(1)
		return msg, true
	}
	return nil, false
}

// LookupRRset returns a single cached RRset for q as a fallback when no
// full message is cached, implementing resolver.Cache.
func (c *Cache) LookupRRset(q dns.Question) ([]dns.RR, bool) {
	if c == nil {
		return nil, false
	}
	key := cacheKey{name: dns.Fqdn(q.Name), class: q.Qclass}
	return c.rr.get(key, q.Qtype)
}

func (c *Cache) Clear() {
	if c != nil {
		for _, cq := range c.cq {
			cq.clear()
		}
		c.rr.clear()
	}
}

func (c *Cache) Clean() {
	if c != nil {
		now := time.Now()
		for _, cq := range c.cq {
			cq.clean(now)
		}
		c.rr.clean(now)
	}
}

func minDNSMsgTTL(msg *dns.Msg) (minTTL int) {
	minTTL = math.MaxInt
	for _, rr := range msg.Answer {
		if rr != nil {
			minTTL = min(minTTL, int(rr.Header().Ttl))
		}
	}
	for _, rr := range msg.Ns {
		if rr != nil {
			minTTL = min(minTTL, int(rr.Header().Ttl))
		}
	}
	for _, rr := range msg.Extra {
		if rr != nil && rr.Header().Rrtype != dns.TypeOPT {
			minTTL = min(minTTL, int(rr.Header().Ttl))
		}
	}
	if minTTL == math.MaxInt {
		minTTL = -1
	}
	return
}

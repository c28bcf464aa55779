package resolver

import "github.com/miekg/dns"

// Cache is the message/RRset cache contract the engine depends on. It is
// satisfied by resolvcore/cache.Cache.
type Cache interface {
	// Lookup returns a full cached message for q, if one exists and has
	// not expired.
	Lookup(q dns.Question) (*dns.Msg, bool)

	// LookupRRset returns a single cached RRset for q as a fallback when
	// no full message is cached.
	LookupRRset(q dns.Question) ([]dns.RR, bool)

	// Insert stores msg keyed by its (sole) question section, overwriting
	// any existing entry for that key.
	Insert(msg *dns.Msg)
}

package resolver

import (
	"strings"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
)

// Blocklist is a probabilistic pre-filter consulted before the cache
// lookup (spec EXPANSION): a name it reports as blocked short-circuits
// resolution with NXDOMAIN without ever constructing a RunningQuery.
// Grounded on the teacher pack's bloom-filter blocklist repository
// concept (haukened-rr-dns/internal/dns/repos/blocklist/bloom), trimmed
// to the single MightContain/Add surface resolvcore needs.
type Blocklist struct {
	mu sync.RWMutex
	bf *bloom.BloomFilter
}

// NewBlocklist sizes a Bloom filter for an expected number of blocked
// names at the given false-positive rate.
func NewBlocklist(expectedNames uint, falsePositiveRate float64) *Blocklist {
	return &Blocklist{bf: bloom.NewWithEstimates(expectedNames, falsePositiveRate)}
}

// Add inserts name (case-folded) into the filter.
func (b *Blocklist) Add(name string) {
	key := []byte(strings.ToLower(name))
	b.mu.Lock()
	b.bf.Add(key)
	b.mu.Unlock()
}

// Blocked reports whether name might be on the blocklist. False
// positives are possible by construction; false negatives are not.
func (b *Blocklist) Blocked(name string) bool {
	key := []byte(strings.ToLower(name))
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bf.Test(key)
}

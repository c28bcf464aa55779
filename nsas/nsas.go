// Package nsas implements the Nameserver Address Store: given a zone and
// class, it asynchronously resolves a currently-reachable authoritative
// nameserver address, tracking per-address RTT and a zone→address cache.
//
// The per-query state machine (resolvcore.runningQuery) treats NSAS as an
// external collaborator (spec §2); this package is the concrete
// implementation that collaborator talks to, adapted from the teacher's
// inline delegation walk (resolver.go's resolveWithDepth/
// queryForDelegation) into a standalone async service.
package nsas

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"golang.org/x/net/proxy"

	resolver "github.com/linkdata/resolvcore"
)

const DefaultZoneCacheSize = 4096
const defaultQueryTimeout = 2 * time.Second

// Store implements resolver.NSAS.
type Store struct {
	Dialer  proxy.ContextDialer
	Fetcher resolver.UdpFetcher
	Port    uint16

	mu          sync.RWMutex
	useIPv4     bool
	useIPv6     bool
	rootServers []netip.Addr

	rtt       *rttTracker
	zoneCache *lru.Cache[zoneKey, []netip.Addr]

	nextHandle atomic.Uint64
	outstanding sync.Map // resolver.NSASHandle -> *lookupState
}

type zoneKey struct {
	zone  string
	class uint16
}

type lookupState struct {
	once sync.Once
	ch   chan resolver.NSASResult
}

// New returns a Store seeded with the compiled-in IANA root hints.
func New(dialer proxy.ContextDialer, fetcher resolver.UdpFetcher) *Store {
	cache, _ := lru.New[zoneKey, []netip.Addr](DefaultZoneCacheSize)
	var roots []netip.Addr
	roots = append(roots, Roots4...)
	roots = append(roots, Roots6...)
	return &Store{
		Dialer:      dialer,
		Fetcher:     fetcher,
		Port:        53,
		useIPv4:     len(Roots4) > 0,
		useIPv6:     len(Roots6) > 0,
		rootServers: roots,
		rtt:         newRTTTracker(),
		zoneCache:   cache,
	}
}

func (s *Store) port() uint16 {
	if s.Port != 0 {
		return s.Port
	}
	return 53
}

// Lookup implements resolver.NSAS. The returned channel is always closed
// after at most one send, whether the lookup completes or is cancelled,
// so the adapter goroutine forwarding it into the RunningQuery's event
// loop never blocks forever.
func (s *Store) Lookup(zone string, class uint16) (resolver.NSASHandle, <-chan resolver.NSASResult) {
	handle := resolver.NSASHandle(s.nextHandle.Add(1))
	state := &lookupState{ch: make(chan resolver.NSASResult, 1)}
	s.outstanding.Store(handle, state)
	go s.resolve(handle, state, zone, class)
	return handle, state.ch
}

// Cancel implements resolver.NSAS.
func (s *Store) Cancel(handle resolver.NSASHandle) {
	if v, ok := s.outstanding.Load(handle); ok {
		state := v.(*lookupState)
		state.once.Do(func() { close(state.ch) })
	}
}

// UpdateRTT implements resolver.NSAS.
func (s *Store) UpdateRTT(zone string, class uint16, addr netip.AddrPort, rttMillis int64) {
	s.rtt.update(addr.Addr(), rttMillis)
}

func (s *Store) resolve(handle resolver.NSASHandle, state *lookupState, zone string, class uint16) {
	defer s.outstanding.Delete(handle)

	zone = dns.Fqdn(zone)
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout*4)
	defer cancel()

	addrs, ok := s.lookupCachedZone(zone, class)
	if !ok {
		addrs, ok = s.walkDelegation(ctx, zone, class)
		if ok && len(addrs) > 0 {
			s.zoneCache.Add(zoneKey{zone: zone, class: class}, addrs)
		}
	}

	result := resolver.NSASResult{Unreachable: true}
	if ok && len(addrs) > 0 {
		ranked := s.rtt.rank(addrs)
		result = resolver.NSASResult{Address: netip.AddrPortFrom(ranked[0], s.port())}
	}
	state.once.Do(func() {
		state.ch <- result
		close(state.ch)
	})
}

func (s *Store) lookupCachedZone(zone string, class uint16) ([]netip.Addr, bool) {
	return s.zoneCache.Get(zoneKey{zone: zone, class: class})
}

package resolver

import "net/netip"

// NSASResult is delivered on the channel returned by NSAS.Lookup.
type NSASResult struct {
	// Address is the reachable nameserver address, valid when
	// Unreachable is false.
	Address netip.AddrPort
	// Unreachable is true when no reachable address could be found for
	// the zone.
	Unreachable bool
}

// NSASHandle identifies one outstanding NSAS lookup for Cancel.
type NSASHandle uint64

// UnreachableRTT is the RTT feedback sentinel meaning "this address did
// not respond" (spec §4.2.4 steps 2/3).
const UnreachableRTT int64 = -1

// NSAS is the Nameserver Address Store contract (spec §4.2.3, §6): given a
// zone and class, asynchronously produce a reachable nameserver address,
// with RTT feedback and cancellation. Satisfied by resolvcore/nsas.Store.
type NSAS interface {
	// Lookup starts an asynchronous zone→address resolution. The result
	// channel receives exactly one NSASResult, unless Cancel is called
	// first, in which case nothing is ever sent on it.
	Lookup(zone string, class uint16) (NSASHandle, <-chan NSASResult)

	// Cancel aborts an outstanding lookup. Idempotent; guarantees no
	// further delivery on the channel returned by the matching Lookup.
	Cancel(handle NSASHandle)

	// UpdateRTT feeds back the measured round-trip time in milliseconds
	// for addr within zone/class, or UnreachableRTT if addr did not
	// respond.
	UpdateRTT(zone string, class uint16, addr netip.AddrPort, rttMillis int64)
}

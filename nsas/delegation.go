package nsas

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

const nsQueryTimeoutMillis = 2000
const maxNSHostResolveDepth = 4

// walkDelegation walks the delegation chain from the current root set down
// to zone, adapted from the teacher's resolveWithDepth/queryForDelegation
// (resolver.go). Unlike the teacher's QNAME-minimized full-name chase,
// NSAS only needs to resolve the zone cut itself, one label at a time.
func (s *Store) walkDelegation(ctx context.Context, zone string, class uint16) ([]netip.Addr, bool) {
	servers := s.currentRoots()
	if zone == "." {
		return servers, len(servers) > 0
	}

	labels := dns.SplitDomainName(zone)
	for i := len(labels) - 1; i >= 0; i-- {
		cut := dns.Fqdn(strings.Join(labels[i:], "."))
		nsOwners, addrs, ok := s.queryNS(ctx, cut, servers, class, 0)
		if !ok {
			continue
		}
		if cut == zone {
			if len(addrs) > 0 {
				return addrs, true
			}
			if resolved := s.resolveNSOwners(ctx, nsOwners, class, 0); len(resolved) > 0 {
				return resolved, true
			}
			return servers, len(servers) > 0
		}
		if len(addrs) > 0 {
			servers = addrs
		} else if resolved := s.resolveNSOwners(ctx, nsOwners, class, 0); len(resolved) > 0 {
			servers = resolved
		}
	}
	return servers, len(servers) > 0
}

// queryNS asks the best-ranked of candidates for zone's NS set, returning
// the NS owner names and any glue addresses found in the response.
func (s *Store) queryNS(ctx context.Context, zone string, candidates []netip.Addr, class uint16, depth int) (nsOwners []string, addrs []netip.Addr, ok bool) {
	if depth > maxNSHostResolveDepth {
		return nil, nil, false
	}
	m := new(dns.Msg)
	m.SetQuestion(zone, dns.TypeNS)
	m.Question[0].Qclass = class
	m.RecursionDesired = false

	for _, addr := range s.rtt.rank(candidates) {
		select {
		case <-ctx.Done():
			return nil, nil, false
		default:
		}
		result := <-s.Fetcher.Fetch(m, netip.AddrPortFrom(addr, s.port()), nsQueryTimeoutMillis)
		if result.Err != nil || result.Msg == nil {
			s.rtt.update(addr, unreachablePenaltyMillis)
			continue
		}
		s.rtt.update(addr, 1) // records a nominal 1 ms sample and resets the unreachable streak; measured RTTs arrive via UpdateRTT

		resp := result.Msg
		owners := extractNSOwners(resp, zone)
		if len(owners) == 0 {
			owners = extractNSOwners(resp, "") // tolerate servers answering NS directly in Answer
		}
		if len(owners) == 0 {
			continue
		}
		return owners, glueAddrs(resp), true
	}
	return nil, nil, false
}

// resolveNSOwners resolves NS hostnames to addresses by walking the
// delegation chain for each hostname's own A lookup, bounded by depth to
// avoid NS-resolves-to-NS cycles.
func (s *Store) resolveNSOwners(ctx context.Context, owners []string, class uint16, depth int) []netip.Addr {
	if depth >= maxNSHostResolveDepth {
		return nil
	}
	var out []netip.Addr
	for _, host := range owners {
		addrs, ok := s.walkDelegationForAddr(ctx, dns.Fqdn(host), class, depth+1)
		if ok {
			out = append(out, addrs...)
		}
	}
	return dedup(out)
}

// walkDelegationForAddr resolves host's A records the same way
// walkDelegation resolves a zone cut, used only to turn an NS owner name
// into addresses (not for the public zone-cut API). AAAA records are not
// queried, so an NS host without glue resolves to IPv4 addresses only.
func (s *Store) walkDelegationForAddr(ctx context.Context, host string, class uint16, depth int) ([]netip.Addr, bool) {
	servers := s.currentRoots()
	labels := dns.SplitDomainName(host)
	for i := len(labels) - 1; i >= 0; i-- {
		cut := dns.Fqdn(strings.Join(labels[i:], "."))
		if cut == host {
			m := new(dns.Msg)
			m.SetQuestion(host, dns.TypeA)
			m.Question[0].Qclass = class
			for _, addr := range s.rtt.rank(servers) {
				result := <-s.Fetcher.Fetch(m, netip.AddrPortFrom(addr, s.port()), nsQueryTimeoutMillis)
				if result.Err != nil || result.Msg == nil {
					continue
				}
				var found []netip.Addr
				for _, rr := range result.Msg.Answer {
					if a, ok := rr.(*dns.A); ok {
						if ip, ok := ipToAddr(a.A); ok {
							found = append(found, ip)
						}
					}
				}
				if len(found) > 0 {
					return found, true
				}
			}
			return nil, false
		}
		nsOwners, addrs, ok := s.queryNS(ctx, cut, servers, class, depth)
		if !ok {
			continue
		}
		if len(addrs) > 0 {
			servers = addrs
		} else if resolved := s.resolveNSOwners(ctx, nsOwners, class, depth+1); len(resolved) > 0 {
			servers = resolved
		}
	}
	return servers, len(servers) > 0
}

func (s *Store) currentRoots() []netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]netip.Addr(nil), s.rootServers...)
}

func extractNSOwners(m *dns.Msg, zone string) []string {
	var out []string
	for _, rr := range m.Ns {
		if ns, ok := rr.(*dns.NS); ok {
			if zone == "" || strings.EqualFold(ns.Hdr.Name, zone) {
				out = append(out, strings.ToLower(ns.Ns))
			}
		}
	}
	if zone != "" {
		for _, rr := range m.Answer {
			if ns, ok := rr.(*dns.NS); ok && strings.EqualFold(ns.Hdr.Name, zone) {
				out = append(out, strings.ToLower(ns.Ns))
			}
		}
	}
	return out
}

func glueAddrs(m *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range m.Extra {
		switch a := rr.(type) {
		case *dns.A:
			if ip, ok := ipToAddr(a.A); ok {
				addrs = append(addrs, ip)
			}
		case *dns.AAAA:
			if ip, ok := ipToAddr(a.AAAA); ok {
				addrs = append(addrs, ip)
			}
		}
	}
	return dedup(addrs)
}

func ipToAddr(ip net.IP) (netip.Addr, bool) {
	if ip == nil {
		return netip.Addr{}, false
	}
	if v4 := ip.To4(); v4 != nil {
		var arr [4]byte
		copy(arr[:], v4)
		return netip.AddrFrom4(arr), true
	}
	if v6 := ip.To16(); v6 != nil {
		var arr [16]byte
		copy(arr[:], v6)
		return netip.AddrFrom16(arr), true
	}
	return netip.Addr{}, false
}

func dedup(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	var out []netip.Addr
	for _, a := range addrs {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

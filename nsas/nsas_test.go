package nsas

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	resolver "github.com/linkdata/resolvcore"
)

// fakeFetcher answers NS queries for "a.b." with its NS set and glue
// straight to a leaf address (10.0.0.9), and every other NS query with the
// NS set for "b." (ns1.b., glue 10.0.0.1), modeling
// scenario 3 from spec §8's referral chain (minus the final A answer,
// which is the RunningQuery's job, not NSAS's).
type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(q *dns.Msg, addr netip.AddrPort, _ int64) <-chan resolver.FetchResult {
	out := make(chan resolver.FetchResult, 1)
	time.Sleep(50 * time.Millisecond)
	resp := new(dns.Msg)
	resp.SetReply(q)
	name := strings.ToLower(q.Question[0].Name)
	switch {
	case name == "a.b.":
		resp.Answer = append(resp.Answer, &dns.NS{
			Hdr: dns.RR_Header{Name: "a.b.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
			Ns:  "ns1.a.b.",
		})
		resp.Extra = append(resp.Extra, &dns.A{
			Hdr: dns.RR_Header{Name: "ns1.a.b.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   netip.MustParseAddr("10.0.0.9").AsSlice(),
		})
	default:
		resp.Ns = append(resp.Ns, &dns.NS{
			Hdr: dns.RR_Header{Name: "b.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
			Ns:  "ns1.b.",
		})
		resp.Extra = append(resp.Extra, &dns.A{
			Hdr: dns.RR_Header{Name: "ns1.b.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   netip.MustParseAddr("10.0.0.1").AsSlice(),
		})
	}
	out <- resolver.FetchResult{Msg: resp}
	return out
}

func TestStoreLookupWalksDelegation(t *testing.T) {
	s := New(nil, &fakeFetcher{})
	s.rootServers = []netip.Addr{netip.MustParseAddr("192.0.2.1")}

	_, ch := s.Lookup("a.b.", dns.ClassINET)
	select {
	case res := <-ch:
		if res.Unreachable {
			t.Fatalf("expected a resolved address, got unreachable")
		}
		if res.Address.Addr().String() != "10.0.0.9" {
			t.Fatalf("got address %s, want 10.0.0.9", res.Address.Addr())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never completed")
	}
}

func TestStoreCancelSuppressesDelivery(t *testing.T) {
	s := New(nil, &fakeFetcher{})
	s.rootServers = []netip.Addr{netip.MustParseAddr("192.0.2.1")}

	handle, ch := s.Lookup("a.b.", dns.ClassINET)
	s.Cancel(handle)

	select {
	case res, stillOpen := <-ch:
		if stillOpen {
			t.Fatalf("expected closed channel after cancel, got a result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel was never closed after cancel")
	}
}

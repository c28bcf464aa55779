package fetch

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestFetchSuccess(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	serverAddr := conn.LocalAddr().(*net.UDPAddr)

	go func() {
		buf := make([]byte, 512)
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			return
		}
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.IPv4(127, 0, 0, 2),
		})
		wire, err := resp.Pack()
		if err != nil {
			return
		}
		_, _ = conn.WriteToUDP(wire, raddr)
	}()

	f := New(&net.Dialer{})
	q := new(dns.Msg)
	q.SetQuestion("example.test.", dns.TypeA)

	addr := netip.MustParseAddrPort(serverAddr.String())
	select {
	case res := <-f.Fetch(q, addr, 2000):
		if res.Err != nil {
			t.Fatalf("fetch error: %v", res.Err)
		}
		if res.TimedOut {
			t.Fatalf("unexpected timeout")
		}
		if len(res.Msg.Answer) != 1 {
			t.Fatalf("expected 1 answer, got %d", len(res.Msg.Answer))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fetch result")
	}
}

func TestFetchTimeout(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	serverAddr := conn.LocalAddr().(*net.UDPAddr)
	conn.Close() // nobody will answer

	f := New(&net.Dialer{})
	q := new(dns.Msg)
	q.SetQuestion("example.test.", dns.TypeA)
	addr := netip.MustParseAddrPort(serverAddr.String())

	select {
	case res := <-f.Fetch(q, addr, 50):
		if res.Err == nil {
			t.Fatalf("expected an error/timeout")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("fetch never returned")
	}
}

// Package fetch implements the asynchronous single-exchange UDP client
// the resolution engine dispatches queries through.
package fetch

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/proxy"

	resolver "github.com/linkdata/resolvcore"
)

// Fetcher implements resolver.UdpFetcher over UDP only: no TCP fallback
// on truncation is performed here (spec non-goal); a TRUNCATED response is
// handed back to the caller like any other response. In iterative mode the
// engine then classifies it as an error category via classify.Classify; in
// forwarding mode it is passed through to the caller as is.
type Fetcher struct {
	Dialer proxy.ContextDialer

	mu     sync.RWMutex
	useUDP bool
}

// New returns a Fetcher dialing through dialer (typically *net.Dialer).
func New(dialer proxy.ContextDialer) *Fetcher {
	return &Fetcher{Dialer: dialer, useUDP: true}
}

// Fetch fires one UDP request/response exchange to addr with the given
// timeout, delivering exactly one FetchResult on the returned channel.
func (f *Fetcher) Fetch(question *dns.Msg, addr netip.AddrPort, timeoutMillis int64) <-chan resolver.FetchResult {
	out := make(chan resolver.FetchResult, 1)
	go f.run(question, addr, timeoutMillis, out)
	return out
}

func (f *Fetcher) run(question *dns.Msg, addr netip.AddrPort, timeoutMillis int64, out chan<- resolver.FetchResult) {
	if !f.usingUDP() {
		out <- resolver.FetchResult{Err: net.ErrClosed}
		return
	}
	timeout := time.Duration(timeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rawConn, err := f.Dialer.DialContext(ctx, "udp", addr.String())
	if err != nil {
		if f.maybeDisableUDP(err) {
			err = net.ErrClosed
		}
		out <- resolver.FetchResult{Err: err, TimedOut: isTimeout(err)}
		return
	}
	dnsConn := &dns.Conn{Conn: rawConn, UDPSize: dns.DefaultMsgSize}
	defer dnsConn.Close()

	deadline, _ := ctx.Deadline()
	_ = dnsConn.SetDeadline(deadline)

	if err := dnsConn.WriteMsg(question); err != nil {
		out <- resolver.FetchResult{Err: err, TimedOut: isTimeout(err)}
		return
	}
	resp, err := dnsConn.ReadMsg()
	if err != nil {
		out <- resolver.FetchResult{Err: err, TimedOut: isTimeout(err)}
		return
	}
	out <- resolver.FetchResult{Msg: resp}
}

func isTimeout(err error) bool {
	var ne net.Error
	if e, ok := err.(net.Error); ok {
		ne = e
		return ne.Timeout()
	}
	return err == context.DeadlineExceeded
}

func (f *Fetcher) usingUDP() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.useUDP
}

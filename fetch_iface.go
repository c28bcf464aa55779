package resolver

import (
	"net/netip"

	"github.com/miekg/dns"
)

// FetchResult is delivered on the channel returned by UdpFetcher.Fetch.
type FetchResult struct {
	Msg      *dns.Msg
	TimedOut bool
	Err      error
}

// UdpFetcher fires one UDP request/response exchange with its own
// timeout (spec §6). Satisfied by resolvcore/fetch.Fetcher.
type UdpFetcher interface {
	Fetch(question *dns.Msg, addr netip.AddrPort, timeoutMillis int64) <-chan FetchResult
}

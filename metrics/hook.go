package metrics

import (
	"fmt"
	"net/netip"
	"os"
	"time"
)

// ResolutionHook is a metrics hook interface for reporting events that
// occur during the lifetime of a single resolved question.
type ResolutionHook interface {
	// EmitCacheHit reports that a question was answered straight from
	// cache without constructing a RunningQuery.
	EmitCacheHit(qtype uint16)

	// EmitCacheMiss reports that a question required a RunningQuery.
	EmitCacheMiss(qtype uint16)

	// EmitRetry reports that a query was resent after a timeout or
	// transport error, within the same RunningQuery.
	EmitRetry(zone string)

	// EmitRTT reports the measured round-trip time to addr for a single
	// UDP exchange.
	EmitRTT(latency time.Duration, addr netip.AddrPort)

	// EmitUnreachable reports that the exchange with addr was given up
	// on: it failed with no retries left, or its result arrived after the
	// query had already stopped.
	EmitUnreachable(addr netip.AddrPort)

	// EmitServfail reports that a question terminated with SERVFAIL.
	EmitServfail(qtype uint16)

	// EmitAnswer reports that a question reached a non-SERVFAIL
	// terminal answer.
	EmitAnswer(qtype uint16, rcode int)
}

// AsyncStatsdResolutionHook emits ResolutionHook events to statsd on
// their own goroutine so metrics emission never adds latency to the
// resolution path.
type AsyncStatsdResolutionHook struct {
	client *StatsdClient
}

// NoopResolutionHook implements ResolutionHook but discards every event.
type NoopResolutionHook struct{}

// NewAsyncStatsdResolutionHook creates a hook backed by statsd at addr,
// tagging every metric with the local hostname.
func NewAsyncStatsdResolutionHook(addr string, sampleRate float32) (ResolutionHook, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	client, err := NewStatsdClient(addr, "resolvcore", map[string]string{"host": hostname}, sampleRate)
	if err != nil {
		return nil, err
	}
	return &AsyncStatsdResolutionHook{client: client}, nil
}

func (h *AsyncStatsdResolutionHook) EmitCacheHit(qtype uint16) {
	go h.client.Count("event.cache_hit", 1, map[string]string{"qtype": qtypeTag(qtype)})
}

func (h *AsyncStatsdResolutionHook) EmitCacheMiss(qtype uint16) {
	go h.client.Count("event.cache_miss", 1, map[string]string{"qtype": qtypeTag(qtype)})
}

func (h *AsyncStatsdResolutionHook) EmitRetry(zone string) {
	go h.client.Count("event.retry", 1, map[string]string{"zone": zone})
}

func (h *AsyncStatsdResolutionHook) EmitRTT(latency time.Duration, addr netip.AddrPort) {
	go h.client.Timing("latency.rtt", latency, map[string]string{"addr": addr.Addr().String()})
}

func (h *AsyncStatsdResolutionHook) EmitUnreachable(addr netip.AddrPort) {
	go h.client.Count("event.unreachable", 1, map[string]string{"addr": addr.Addr().String()})
}

func (h *AsyncStatsdResolutionHook) EmitServfail(qtype uint16) {
	go h.client.Count("event.servfail", 1, map[string]string{"qtype": qtypeTag(qtype)})
}

func (h *AsyncStatsdResolutionHook) EmitAnswer(qtype uint16, rcode int) {
	go h.client.Count("event.answer", 1, map[string]string{"qtype": qtypeTag(qtype), "rcode": fmt.Sprintf("%d", rcode)})
}

// NewNoopResolutionHook creates a no-op implementation of ResolutionHook.
func NewNoopResolutionHook() ResolutionHook { return &NoopResolutionHook{} }

func (h *NoopResolutionHook) EmitCacheHit(uint16)                   {}
func (h *NoopResolutionHook) EmitCacheMiss(uint16)                  {}
func (h *NoopResolutionHook) EmitRetry(string)                      {}
func (h *NoopResolutionHook) EmitRTT(time.Duration, netip.AddrPort)  {}
func (h *NoopResolutionHook) EmitUnreachable(netip.AddrPort)        {}
func (h *NoopResolutionHook) EmitServfail(uint16)                   {}
func (h *NoopResolutionHook) EmitAnswer(uint16, int)                {}

func qtypeTag(qtype uint16) string {
	return fmt.Sprintf("%d", qtype)
}
